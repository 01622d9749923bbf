package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/zeli-parts/partsbot/internal/models"
)

const auditTimeLayout = "2006-01-02 15:04:05"

// SheetsAudit mirrors audit entries as rows of the owner's Google Sheet.
type SheetsAudit struct {
	svc     *sheets.Service
	sheetID string
	rng     string
}

var _ AuditLog = (*SheetsAudit)(nil)

// NewSheetsAudit creates a Sheets client from a service-account credentials file.
func NewSheetsAudit(ctx context.Context, credentialsFile, sheetID, rng string, scopes ...string) (*SheetsAudit, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("audit sheet id not set")
	}
	opts := []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsAudit{svc: svc, sheetID: sheetID, rng: rng}, nil
}

// Append writes one row.
func (a *SheetsAudit) Append(ctx context.Context, entry models.AuditEntry) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{AuditRow(entry)}}
	_, err := a.svc.Spreadsheets.Values.Append(a.sheetID, a.rng, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets audit append failed: %w", err)
	}
	slog.Debug("SheetsAudit.Append succeeded", "customer", entry.Customer, "status", entry.Status)
	return nil
}

// AuditRow lays out an entry as: timestamp, raw, customer, part, make, model,
// year, three (supplier, cost, lead time) triples, final prices, chosen, status.
func AuditRow(entry models.AuditEntry) []interface{} {
	row := []interface{}{
		entry.Timestamp.Format(auditTimeLayout),
		entry.Raw,
		entry.Customer,
		entry.Item.Part,
		entry.Item.Make,
		entry.Item.Model,
		entry.Item.Year,
	}
	for i := 0; i < models.MaxOptions; i++ {
		if i < len(entry.Options) {
			o := entry.Options[i]
			row = append(row, o.SupplierName, strconv.FormatFloat(o.Cost, 'f', 2, 64), o.LeadTime)
		} else {
			row = append(row, "", "", "")
		}
	}

	prices := make([]string, len(entry.FinalPrices))
	for i, p := range entry.FinalPrices {
		prices[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	chosen := ""
	if entry.Chosen > 0 {
		chosen = strconv.Itoa(entry.Chosen)
	}
	return append(row, strings.Join(prices, ","), chosen, string(entry.Status))
}
