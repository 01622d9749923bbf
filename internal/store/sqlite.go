package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zeli-parts/partsbot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time; avoids SQLITE_BUSY between the job runner and handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	cols, err := encodeAudit(entry)
	if err != nil {
		return err
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, customer, raw, part, make, model, year, options_json, final_prices_json, chosen, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(), entry.Customer, entry.Raw, entry.Item.Part, entry.Item.Make, entry.Item.Model, entry.Item.Year,
		cols.optionsJSON, cols.pricesJSON, entry.Chosen, string(entry.Status),
	)
	if err != nil {
		slog.Error("SQLiteStore.AppendAudit failed", "error", err, "customer", entry.Customer, "status", entry.Status)
		return fmt.Errorf("failed to append audit entry for %s: %w", entry.Customer, err)
	}
	slog.Debug("SQLiteStore.AppendAudit succeeded", "customer", entry.Customer, "status", entry.Status)
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, customer string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ts, customer, raw, part, make, model, year, options_json, final_prices_json, chosen, status
		FROM audit_log`
	args := []interface{}{}
	if customer != "" {
		query += ` WHERE customer = ?`
		args = append(args, customer)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}
