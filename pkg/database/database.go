// Package database provides the Postgres access layer: connection setup with
// pooling, schema bootstrap, and the sentinel errors repositories translate
// driver errors into.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/observability"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

// Common errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// Database represents the database access layer
type Database struct {
	db     *sqlx.DB
	logger observability.Logger
}

// New connects to Postgres and configures the connection pool
func New(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*Database, error) {
	if logger == nil {
		logger = observability.NewLogger("database")
	}

	dsn := cfg.DSN()
	logger.Info("Connecting to database", map[string]interface{}{
		"dsn": sanitizeDSN(dsn),
	})

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Database{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock
func NewWithDB(db *sqlx.DB) *Database {
	return &Database{db: db, logger: observability.NewNoopLogger()}
}

// DB returns the underlying sqlx handle
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// Ping verifies the connection is alive
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool
func (d *Database) Close() error {
	return d.db.Close()
}

// TranslateError converts driver errors into the package sentinels
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) {
		return err
	}
	if strings.Contains(err.Error(), "no rows in result set") {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

// sanitizeDSN removes sensitive information from a DSN for safe logging
func sanitizeDSN(dsn string) string {
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, " ")
		var sanitized []string
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				sanitized = append(sanitized, "password=***")
			} else {
				sanitized = append(sanitized, part)
			}
		}
		return strings.Join(sanitized, " ")
	}
	return dsn
}
