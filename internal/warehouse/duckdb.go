// Package warehouse provides read-only access to the DuckDB column store
// holding the study datasets.
//
// All access goes through Client, which opens the database in read-only mode,
// applies the configured memory ceiling and thread count, and bounds every
// execution with a wall-clock timeout. The client never validates SQL shape;
// the pipeline's validator is the single SQL-aware gate and only validated
// statements reach this package.
//
// Usage:
//
//	client, err := warehouse.NewClient(ctx, warehouse.ClientConfig{Path: cfg.Data.Path})
//	defer client.Close()
//	result, err := client.Execute(ctx, "SELECT COUNT(*) FROM ADAE LIMIT 10000")
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Client executes validated SQL against the DuckDB store.
type Client struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *slog.Logger
}

// ClientConfig holds configuration for the warehouse client.
type ClientConfig struct {
	// Path is the DuckDB file path; empty opens an in-memory database
	// (used by tests and local development seeds).
	Path string

	// ReadOnly opens the store without write access. Ignored for
	// in-memory databases, which DuckDB cannot open read-only.
	ReadOnly bool

	// MemoryLimit is the DuckDB memory ceiling, e.g. "4GB".
	MemoryLimit string

	// Threads is the DuckDB thread count.
	Threads int

	// QueryTimeout bounds each execution. Default 30s.
	QueryTimeout time.Duration

	Logger *slog.Logger
}

// NewClient opens the DuckDB store and applies the resource limits.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := cfg.Path
	if dsn != "" && cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to open duckdb: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse: failed to verify duckdb connection: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET memory_limit = '%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("warehouse: failed to set memory limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads = %d", cfg.Threads)); err != nil {
			db.Close()
			return nil, fmt.Errorf("warehouse: failed to set thread count: %w", err)
		}
	}

	cfg.Logger.Info("warehouse client initialized",
		slog.String("path", cfg.Path),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.String("memory_limit", cfg.MemoryLimit),
	)

	return &Client{
		db:           db,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger.With(slog.String("component", "warehouse")),
	}, nil
}

// Close releases the database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping checks the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Execute runs one validated SELECT and collects the full result. Failures
// come back classified so the caller can route retryable ones into the
// self-correction loop.
func (c *Client) Execute(ctx context.Context, query string) (*Result, error) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(execCtx, query)
	if err != nil {
		execErr := classify(err)
		c.logger.Warn("query failed",
			slog.String("sql", truncateSQL(query, 500)),
			slog.String("kind", string(execErr.Kind)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil, execErr
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, classify(err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	result.RowCount = len(result.Rows)
	result.ElapsedMS = time.Since(start).Milliseconds()

	c.logger.Info("query executed",
		slog.String("sql", truncateSQL(query, 500)),
		slog.Int("row_count", result.RowCount),
		slog.Int64("duration_ms", result.ElapsedMS),
	)

	return result, nil
}

// Catalog returns the tables present in the store with their column lists,
// keyed by upper-cased table name.
func (c *Client) Catalog(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name, column_name
		   FROM information_schema.columns
		  WHERE table_schema = 'main'
		  ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to read catalog: %w", err)
	}
	defer rows.Close()

	catalog := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("warehouse: failed to scan catalog row: %w", err)
		}
		table = strings.ToUpper(table)
		catalog[table] = append(catalog[table], strings.ToUpper(column))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: catalog iteration failed: %w", err)
	}

	return catalog, nil
}

// ScanDistinct returns the distinct non-null values of one column, used to
// build the entity extractor's value dictionary at startup.
func (c *Client) ScanDistinct(ctx context.Context, table, column string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		quoteIdent(column), quoteIdent(table), quoteIdent(column), limit)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to scan %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("warehouse: failed to scan value: %w", err)
		}
		if value.Valid && value.String != "" {
			values = append(values, value.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: value scan iteration failed: %w", err)
	}

	return values, nil
}

// quoteIdent quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// truncateSQL truncates a SQL string for logging purposes.
func truncateSQL(query string, maxLen int) string {
	query = strings.TrimSpace(query)
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
