package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeli-parts/partsbot/internal/models"
)

// AuditRepo is the append-only request audit log.
type AuditRepo interface {
	// AppendAudit records one lifecycle event of a request item.
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	// ListAudit returns the most recent entries for customer (all customers
	// when empty), newest first.
	ListAudit(ctx context.Context, customer string, limit int) ([]models.AuditEntry, error)
}

// AuditLog is the write side used by the business packages.
type AuditLog interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// AuditTrail writes every entry to the database and then to any mirrors
// (e.g. the owner's spreadsheet). A mirror failure does not undo the
// database write but is reported to the caller.
type AuditTrail struct {
	repo    AuditRepo
	mirrors []AuditLog
}

// NewAuditTrail creates an AuditTrail. repo may be nil when only mirrors are configured.
func NewAuditTrail(repo AuditRepo, mirrors ...AuditLog) *AuditTrail {
	return &AuditTrail{repo: repo, mirrors: mirrors}
}

// Append implements AuditLog.
func (a *AuditTrail) Append(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	if a.repo != nil {
		if err := a.repo.AppendAudit(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range a.mirrors {
		if err := m.Append(ctx, entry); err != nil {
			slog.Warn("AuditTrail.Append: mirror write failed", "customer", entry.Customer, "status", entry.Status, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// auditColumns is the encoded form shared by the SQL backends.
type auditColumns struct {
	optionsJSON string
	pricesJSON  string
}

func encodeAudit(entry models.AuditEntry) (auditColumns, error) {
	opts := entry.Options
	if opts == nil {
		opts = []models.Option{}
	}
	if len(opts) > models.MaxOptions {
		opts = opts[:models.MaxOptions]
	}
	prices := entry.FinalPrices
	if prices == nil {
		prices = []float64{}
	}
	o, err := json.Marshal(opts)
	if err != nil {
		return auditColumns{}, fmt.Errorf("encode audit options: %w", err)
	}
	p, err := json.Marshal(prices)
	if err != nil {
		return auditColumns{}, fmt.Errorf("encode audit prices: %w", err)
	}
	return auditColumns{optionsJSON: string(o), pricesJSON: string(p)}, nil
}

func decodeAudit(entry *models.AuditEntry, optionsJSON, pricesJSON string) error {
	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &entry.Options); err != nil {
			return fmt.Errorf("decode audit options: %w", err)
		}
	}
	if pricesJSON != "" {
		if err := json.Unmarshal([]byte(pricesJSON), &entry.FinalPrices); err != nil {
			return fmt.Errorf("decode audit prices: %w", err)
		}
	}
	return nil
}
