package database

import (
	"embed"
	"fmt"

	"tarot-system/internal/logger"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate применяет встроенные миграции goose.
func Migrate(db *DB, log *logger.Logger) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db.DB)
	if err == nil {
		log.WithField("version", version).Info("Database migrations applied")
	}
	return nil
}
