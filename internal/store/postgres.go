package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/zeli-parts/partsbot/internal/models"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ts, entry.Customer, entry.Raw, entry.Item.Part, entry.Item.Make, entry.Item.Model, entry.Item.Year,
		cols.optionsJSON, cols.pricesJSON, entry.Chosen, string(entry.Status),
	)
	if err != nil {
		slog.Error("PostgresStore.AppendAudit failed", "error", err, "customer", entry.Customer, "status", entry.Status)
		return fmt.Errorf("failed to append audit entry for %s: %w", entry.Customer, err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, customer string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const cols = `SELECT ts, customer, raw, part, make, model, year, options_json::text, final_prices_json::text, chosen, status FROM audit_log`
	var (
		rows *sql.Rows
		err  error
	)
	if customer != "" {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE customer = $1 ORDER BY id DESC LIMIT $2`, customer, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}
