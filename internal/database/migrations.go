package database

import (
	"errors"
	"time"

	"github.com/preplinehq/prepline/internal/tickets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOpenPositions = "2026-07-14_backfill_open_ticket_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillOpenPositions, apply: backfillOpenPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillOpenPositions renumbers every category that has open tickets.
// Databases written before ordering existed carry NULL positions on open
// tickets; one compaction pass per category makes them dense.
func backfillOpenPositions(db *gorm.DB) error {
	var categories []tickets.Category
	err := db.Model(&tickets.Ticket{}).
		Where("is_closed = ?", false).
		Distinct().
		Pluck("category", &categories).Error
	if err != nil {
		return err
	}

	for _, category := range categories {
		if err := tickets.CompactPositions(db, category); err != nil {
			return err
		}
	}
	return nil
}
