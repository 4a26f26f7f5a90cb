package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/preplinehq/prepline/internal/accessgate"
	"github.com/preplinehq/prepline/internal/config"
	"github.com/preplinehq/prepline/internal/database"
	"github.com/preplinehq/prepline/internal/logging"
	"github.com/preplinehq/prepline/internal/notify"
	"github.com/preplinehq/prepline/internal/server"
	"github.com/preplinehq/prepline/internal/tickets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prepline-api",
		Short: "Preparation ticket queue backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("categories", defaults.GetString("categories"), "Comma-separated station categories")
	cmd.PersistentFlags().String("nats-url", defaults.GetString("nats.url"), "NATS server URL (empty disables the broker sink)")
	cmd.PersistentFlags().String("user-key", "", "Waitstaff access key (overrides env)")
	cmd.PersistentFlags().String("admin-key", "", "Admin access key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "categories", "categories")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "access.user_key", "user-key")
	bindFlag(cmd, "access.admin_key", "admin-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	gate, err := accessgate.New(accessgate.Config{
		UserKey:  appConfig.AccessUserKey,
		AdminKey: appConfig.AccessAdminKey,
	})
	if err != nil {
		return err
	}

	categories, err := tickets.NewCategorySet(appConfig.Categories)
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	sinks := []tickets.Notifier{dispatcher}
	if appConfig.NATSURL != "" {
		natsNotifier, err := notify.NewNATSNotifier(appConfig.NATSURL, notify.DefaultSubject)
		if err != nil {
			return err
		}
		defer natsNotifier.Close() //nolint:errcheck
		sinks = append(sinks, natsNotifier)
		logger.Info("broker sink enabled", zap.String("url", appConfig.NATSURL))
	}

	ticketService, err := tickets.NewService(tickets.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: tickets.NewUUIDProvider(),
		Logger:     logger,
		Notifier:   tickets.MultiNotifier(sinks...),
		Categories: categories,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gate:     gate,
		Tickets:  ticketService,
		Realtime: dispatcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
