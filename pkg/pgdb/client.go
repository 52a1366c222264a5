// Package pgdb provides the PostgreSQL persistence layer: connection
// pooling, embedded migrations, and repository methods for every durable
// entity in the pipeline (runs, tasks, reliability metrics, credits, token
// usage, and events).
//
// There is no ORM here. The teacher's database layer wraps an ent.Client
// generated from a schema package; code generation cannot run in this
// environment, so persistence is built directly on database/sql + the pgx
// stdlib driver, which is the same pair of dependencies the teacher uses
// underneath its ent client.
package pgdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB and exposes typed repository methods.
type Client struct {
	db *sql.DB
}

// DB returns the underlying pool for health checks and ad-hoc queries.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens a pooled connection, verifies connectivity, and applies
// any pending migrations before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pgdb: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgdb: ping: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgdb: migrate: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open pool, useful for tests that manage
// their own testcontainers-backed database.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// runMigrations applies all pending embedded migrations using golang-migrate.
func runMigrations(db *sql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// Close only the source driver. Calling m.Close() also closes the
	// database driver, which would close the shared *sql.DB out from
	// under the rest of the Client.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && len(name) > 4 && name[len(name)-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
