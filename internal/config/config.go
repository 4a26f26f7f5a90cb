package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PREPLINE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "prepline.db"
	defaultLogLevel     = "info"
	defaultCategories   = "kitchen,bar"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	AccessUserKey  string
	AccessAdminKey string
	NATSURL        string
	Categories     []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("categories", defaultCategories)
	configViper.SetDefault("nats.url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		AccessUserKey:  configViper.GetString("access.user_key"),
		AccessAdminKey: configViper.GetString("access.admin_key"),
		NATSURL:        configViper.GetString("nats.url"),
		Categories:     splitCategories(configViper.GetString("categories")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitCategories(raw string) []string {
	var categories []string
	for _, name := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		categories = append(categories, trimmed)
	}
	return categories
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AccessUserKey) == "" {
		return fmt.Errorf("access.user_key is required")
	}
	if strings.TrimSpace(c.AccessAdminKey) == "" {
		return fmt.Errorf("access.admin_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories is required")
	}
	return nil
}
