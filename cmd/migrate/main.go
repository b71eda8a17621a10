// Package main applies the SAGE persistence migrations.
//
// Both local stores (the audit trail and the settings store) embed their
// schema migrations; opening a store applies them. This command exists so
// deployments can run migrations ahead of the API server, e.g. in an init
// container.
//
// Usage:
//
//	go run ./cmd/migrate
//
// Environment variables:
//
//	AUDIT_DB_PATH    - audit trail SQLite file
//	SETTINGS_DB_PATH - settings SQLite file (default data/settings.db)
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/rshinytools/sage/internal/audit"
	"github.com/rshinytools/sage/internal/config"
	"github.com/rshinytools/sage/internal/settings"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.App)
	slog.SetDefault(logger.Logger)

	auditStore, err := audit.OpenStore(audit.StoreConfig{
		Path:      cfg.Audit.Path,
		SecretKey: cfg.Audit.SecretKey,
	})
	if err != nil {
		logger.Error("audit migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	auditStore.Close()
	logger.Info("audit store migrated", slog.String("path", cfg.Audit.Path))

	settingsDB := os.Getenv("SETTINGS_DB_PATH")
	if settingsDB == "" {
		settingsDB = "data/settings.db"
	}

	settingsStore, err := settings.OpenStore(settings.StoreConfig{
		Path:   settingsDB,
		Logger: logger.Logger,
	})
	if err != nil {
		logger.Error("settings migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	settingsStore.Close()
	logger.Info("settings store migrated", slog.String("path", settingsDB))
}
