// Package database is the Postgres-backed read-model store for the
// anchoring node's HTTP API: a denormalized projection of the
// authoritative pkg/ledger KV schema, kept for cheap indexed reads over
// the anchoring chain, config history, and signature pool.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/btc-anchoring/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB sized from config.DatabaseSettings.
type Client struct {
	db     *sql.DB
	config config.DatabaseSettings
	logger *log.Logger
}

// NewClient opens a pooled connection to cfg.URL, sizes the pool per cfg,
// and verifies connectivity before returning.
func NewClient(cfg config.DatabaseSettings) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database: connection URL is empty")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	client := &Client{
		db:     db,
		config: cfg,
		logger: log.New(log.Writer(), "[database] ", log.LstdFlags),
	}
	client.logger.Printf("connected to read-model database (max_open_conns=%d max_idle_conns=%d)", cfg.MaxOpenConns, cfg.MaxIdleConns)
	return client, nil
}

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Health reports the read-model database's liveness and connection pool
// occupancy, for the operator-facing /healthz endpoint.
func (c *Client) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{CheckedAt: time.Now()}
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	return status
}

// HealthStatus is the JSON body GET /healthz returns.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Error           string    `json:"error,omitempty"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ExecContext executes a query that doesn't return rows.
func (c *Client) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// migration is one embedded migrations/NNN_name.sql file.
type migration struct {
	version string
	sql     string
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in version order, each inside its own transaction.
// The read-model schema is additive-only (new columns/tables, never
// drops), so migrations always run forward at startup with no down path.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("database: load migrations: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("database: read applied migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		c.logger.Printf("applying migration %s", mig.version)
		if err := c.applyMigration(ctx, mig); err != nil {
			return fmt.Errorf("database: apply migration %s: %w", mig.version, err)
		}
	}
	return nil
}

// loadMigrations reads every embedded *.sql file, deriving each
// migration's version from its filename (e.g. "001_read_model.sql" ->
// "001_read_model"), sorted so earlier schema versions always apply
// first.
func loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(d.Name(), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedMigrations returns the set of migration versions already
// recorded, treating a missing schema_migrations table (the very first
// run, before any migration has created it) as the empty set rather
// than an error.
func (c *Client) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs mig's SQL in its own transaction. The migration
// file itself is responsible for recording its version into
// schema_migrations (via INSERT ... ON CONFLICT DO NOTHING), so a
// migration is both schema change and bookkeeping in one atomic unit.
func (c *Client) applyMigration(ctx context.Context, mig migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return tx.Commit()
}
