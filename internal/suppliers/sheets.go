package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/util"
)

const (
	// SourceSheet tags spreadsheet results.
	SourceSheet = "google_sheet"
	// DefaultInventoryRange is read when a sheet supplier names no range.
	DefaultInventoryRange = "Sheet1!A:J"
	// DefaultSheetSupplierName labels rows that carry no supplier column.
	DefaultSheetSupplierName = "Proveedor Local"

	minMatchScore = 3
)

// Inventory column headers, compared case-insensitively.
const (
	colPart     = "part"
	colMake     = "make"
	colModel    = "model"
	colYear     = "year"
	colPrice    = "price"
	colStock    = "stock"
	colSupplier = "supplier name"
	colLead     = "lead time"
	colNumber   = "part number"
	colNotes    = "notes"
)

// ValuesReader fetches a sheet range as rows of cells.
type ValuesReader interface {
	Values(ctx context.Context, sheetID, rng string) ([][]interface{}, error)
}

type sheetsValues struct {
	svc *sheets.Service
}

func (s sheetsValues) Values(ctx context.Context, sheetID, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// NewSheetsReader builds a ValuesReader from a service-account credentials file.
func NewSheetsReader(ctx context.Context, credentialsFile string, scopes ...string) (ValuesReader, error) {
	opts := []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return sheetsValues{svc: svc}, nil
}

// SheetLookup searches one supplier's inventory sheet.
type SheetLookup struct {
	reader       ValuesReader
	supplier     SheetSupplier
	defaultRange string
}

// NewSheetLookup creates a lookup for supplier. An empty supplier range falls
// back to defaultRange.
func NewSheetLookup(reader ValuesReader, supplier SheetSupplier, defaultRange string) *SheetLookup {
	if defaultRange == "" {
		defaultRange = DefaultInventoryRange
	}
	return &SheetLookup{reader: reader, supplier: supplier, defaultRange: defaultRange}
}

// Name identifies the lookup in logs.
func (l *SheetLookup) Name() string { return l.supplier.Name }

// Lookup returns the best matching in-stock row, or nil when nothing scores
// high enough. Transport failures reading the sheet are retried.
func (l *SheetLookup) Lookup(ctx context.Context, item models.RequestItem) (*models.SupplierResult, error) {
	rng := l.supplier.Range
	if rng == "" {
		rng = l.defaultRange
	}
	var rows [][]interface{}
	err := apperrors.WithRetry(ctx, func() error {
		var err error
		rows, err = l.reader.Values(ctx, l.supplier.SheetID, rng)
		return apperrors.Classify("sheets.lookup", err)
	})
	if err != nil {
		return nil, err
	}
	res := matchRows(rows, item)
	if res == nil {
		slog.Debug("SheetLookup.Lookup: no match", "supplier", l.supplier.Name, "item", item.String())
		return nil, nil
	}
	if res.SupplierName == DefaultSheetSupplierName && l.supplier.Name != "" {
		res.SupplierName = l.supplier.Name
	}
	if l.supplier.LeadTime != "" {
		res.LeadTime = l.supplier.LeadTime
	}
	return res, nil
}

// matchRows scores each data row against item: part +3, make +2, model +2,
// year (or "all") +1. Out-of-stock rows are skipped. The first row is the
// header.
func matchRows(rows [][]interface{}, item models.RequestItem) *models.SupplierResult {
	if len(rows) < 2 {
		return nil
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(cell(h)))] = i
	}
	if _, ok := cols[colPart]; !ok {
		return nil
	}
	get := func(row []interface{}, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(cell(row[i]))
	}

	part := util.Normalize(item.Part)
	mk := util.Normalize(item.Make)
	model := util.Normalize(item.Model)
	year := strings.TrimSpace(item.Year)

	bestScore := 0
	var best []interface{}
	for _, row := range rows[1:] {
		stock := strings.ToLower(get(row, colStock))
		if stock == "0" || stock == "no" {
			continue
		}
		score := 0
		if p := util.Normalize(get(row, colPart)); p != "" && part != "" && (strings.Contains(part, p) || strings.Contains(p, part)) {
			score += 3
		}
		if m := util.Normalize(get(row, colMake)); m != "" && m == mk {
			score += 2
		}
		if m := util.Normalize(get(row, colModel)); m != "" && model != "" && strings.Contains(model, m) {
			score += 2
		}
		if y := strings.ToLower(get(row, colYear)); y == "all" || (y != "" && year != "" && strings.Contains(y, year)) {
			score++
		}
		if score > bestScore {
			bestScore, best = score, row
		}
	}
	if bestScore < minMatchScore {
		return nil
	}

	res := &models.SupplierResult{
		SupplierName: get(best, colSupplier),
		LeadTime:     get(best, colLead),
		Source:       SourceSheet,
		Notes:        get(best, colNotes),
		PartNumber:   get(best, colNumber),
	}
	if res.SupplierName == "" {
		res.SupplierName = DefaultSheetSupplierName
	}
	if res.LeadTime == "" {
		res.LeadTime = DefaultLeadTime
	}
	if price, ok := parsePrice(get(best, colPrice)); ok {
		res.Cost = models.Price(price)
	}
	return res
}

func cell(v interface{}) string {
	switch c := v.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}

func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
