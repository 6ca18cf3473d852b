// Package database provides the Postgres-backed connection pool, migration
// runner, and repositories for contracts, rules, the execution queue, and
// rate-limit history.
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

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB with migration support and query helpers.
type Client struct {
	db     *sql.DB
	config *config.Config
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient opens a pooled connection and verifies it with a ping.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	client := &Client{
		config: cfg,
		logger: log.New(log.Writer(), "[database] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMinConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.DatabaseMaxIdleTime) * time.Second)
	db.SetConnMaxLifetime(time.Duration(cfg.DatabaseMaxLifetime) * time.Second)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Printf("connected to database (max_conns=%d, min_conns=%d)",
		cfg.DatabaseMaxConns, cfg.DatabaseMinConns)

	return client, nil
}

// DB returns the underlying *sql.DB for direct access.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db != nil {
		c.logger.Println("closing database connection")
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthStatus reports the health of the database connection.
type HealthStatus struct {
	Healthy            bool          `json:"healthy"`
	Error              string        `json:"error,omitempty"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxOpenConnections int           `json:"max_open_connections"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// Health returns a point-in-time health snapshot.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}

	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}

	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.WaitDuration = stats.WaitDuration
	status.MaxOpenConnections = stats.MaxOpenConnections

	return status, nil
}

// ============================================================================
// MIGRATIONS
// ============================================================================

// Migration is a single embedded schema file.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

// MigrateUp applies all pending migrations in version order.
func (c *Client) MigrateUp(ctx context.Context) error {
	c.logger.Println("running database migrations...")

	migrations, err := c.getMigrations()
	if err != nil {
		return fmt.Errorf("failed to get migrations: %w", err)
	}

	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("failed to get applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			c.logger.Printf("  skipping %s (already applied)", migration.Version)
			continue
		}
		c.logger.Printf("  applying %s...", migration.Version)
		if err := c.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	c.logger.Println("migrations complete")
	return nil
}

func (c *Client) getMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		filename := d.Name()
		migrations = append(migrations, Migration{
			Version:  strings.TrimSuffix(filename, ".sql"),
			Filename: filename,
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *Client) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
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

func (c *Client) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	return tx.Commit()
}

// ============================================================================
// TRANSACTION SUPPORT
// ============================================================================

// Tx wraps a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction.
func (c *Client) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Tx returns the underlying *sql.Tx for direct access.
func (t *Tx) Tx() *sql.Tx { return t.tx }

// ============================================================================
// QUERY HELPERS
// ============================================================================

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
