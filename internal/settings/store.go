// Package settings provides the persisted, runtime-adjustable configuration
// store for SAGE.
//
// Settings live in a local SQLite database, read-mostly with an in-memory
// read-through cache invalidated on write. Every change records the old and
// new value in a settings_audit table. Sensitive values are masked whenever
// settings are rendered outward.
package settings

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/rshinytools/sage/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists settings with a read-through cache.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	cache  map[string]Setting
	logger *slog.Logger
}

// StoreConfig holds configuration for the settings store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string

	Logger *slog.Logger
}

// OpenStore opens (or creates) the settings database, applies migrations and
// seeds missing defaults.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("settings: store path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("settings: failed to open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		db:     db,
		cache:  make(map[string]Setting),
		logger: cfg.Logger.With(slog.String("component", "settings")),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.seed(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// migrate applies the embedded schema migrations.
func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("settings: failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("settings: failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("settings: failed to build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("settings: migration failed: %w", err)
	}

	return nil
}

// seed inserts any default setting not yet present.
func (s *Store) seed(ctx context.Context) error {
	for _, def := range Defaults() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (category, key, value, value_type, label, description, sensitive, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (category, key) DO NOTHING`,
			def.Category, def.Key, def.Value, def.ValueType,
			def.Label, def.Description, boolToInt(def.Sensitive),
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("settings: failed to seed %s.%s: %w", def.Category, def.Key, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns one setting's raw value, reading through the cache.
func (s *Store) Get(ctx context.Context, category, key string) (string, error) {
	cacheKey := category + "." + key

	s.mu.RLock()
	if setting, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return setting.Value, nil
	}
	s.mu.RUnlock()

	setting, err := s.load(ctx, category, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[cacheKey] = *setting
	s.mu.Unlock()

	return setting.Value, nil
}

// GetCategory returns every setting of a category with sensitive values
// replaced by the mask. Raw sensitive values never leave the store this way.
func (s *Store) GetCategory(ctx context.Context, category string) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, key, value, value_type, label, description, sensitive
		  FROM settings WHERE category = ? ORDER BY key`, category)
	if err != nil {
		return nil, fmt.Errorf("settings: failed to list category %s: %w", category, err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var setting Setting
		var sensitive int
		if err := rows.Scan(&setting.Category, &setting.Key, &setting.Value,
			&setting.ValueType, &setting.Label, &setting.Description, &sensitive); err != nil {
			return nil, fmt.Errorf("settings: failed to scan setting: %w", err)
		}
		setting.Sensitive = sensitive != 0
		if setting.Sensitive && setting.Value != "" {
			setting.Value = config.SensitiveMask
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: category iteration failed: %w", err)
	}

	return settings, nil
}

// Set updates one setting, records the change in settings_audit, and
// invalidates the cache entry.
func (s *Store) Set(ctx context.Context, category, key, value, changedBy string) error {
	setting, err := s.load(ctx, category, key)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: failed to begin change: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE settings SET value = ?, updated_at = ? WHERE category = ? AND key = ?",
		value, time.Now().UTC().Format(time.RFC3339), category, key); err != nil {
		return fmt.Errorf("settings: failed to update %s.%s: %w", category, key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings_audit (category, key, old_value, new_value, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		category, key, setting.Value, value, changedBy,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("settings: failed to record change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settings: failed to commit change: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, category+"."+key)
	s.mu.Unlock()

	s.logger.Info("setting changed",
		slog.String("category", category),
		slog.String("key", key),
		slog.String("changed_by", changedBy),
		slog.Bool("sensitive", setting.Sensitive),
	)

	return nil
}

// ChangeHistory lists the recorded changes for one setting, newest first.
func (s *Store) ChangeHistory(ctx context.Context, category, key string) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, key, old_value, new_value, changed_by, changed_at
		  FROM settings_audit WHERE category = ? AND key = ?
		 ORDER BY id DESC`, category, key)
	if err != nil {
		return nil, fmt.Errorf("settings: failed to read change history: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var change Change
		var oldValue sql.NullString
		if err := rows.Scan(&change.ID, &change.Category, &change.Key,
			&oldValue, &change.NewValue, &change.ChangedBy, &change.ChangedAt); err != nil {
			return nil, fmt.Errorf("settings: failed to scan change: %w", err)
		}
		change.OldValue = oldValue.String
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// Change is one recorded settings modification.
type Change struct {
	ID        int64  `json:"id"`
	Category  string `json:"category"`
	Key       string `json:"key"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	ChangedBy string `json:"changed_by"`
	ChangedAt string `json:"changed_at"`
}

// load reads one setting from the database.
func (s *Store) load(ctx context.Context, category, key string) (*Setting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, key, value, value_type, label, description, sensitive
		  FROM settings WHERE category = ? AND key = ?`, category, key)

	var setting Setting
	var sensitive int
	err := row.Scan(&setting.Category, &setting.Key, &setting.Value,
		&setting.ValueType, &setting.Label, &setting.Description, &sensitive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("settings: unknown setting %s.%s", category, key)
		}
		return nil, fmt.Errorf("settings: failed to read %s.%s: %w", category, key, err)
	}
	setting.Sensitive = sensitive != 0

	return &setting, nil
}

// boolToInt renders a bool for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
