// Package store persists the audit log, the durable job table and inbound
// message deduplication in SQLite or PostgreSQL.
package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store is the full persistence surface used by the bot.
type Store interface {
	AuditRepo
	JobRepo
	DedupRepo
	Close() error
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// URLs and key/value connection strings, "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store matching the DSN type.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	driver := DetectDSNType(dsn)
	slog.Debug("store.Open: selecting backend", "driver", driver)
	switch driver {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
