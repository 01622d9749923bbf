// Package suppliers holds the sourcing channels behind the fan-out: the
// US-market estimator, spreadsheet inventories and relay suppliers reached
// over WhatsApp, plus the directory of local stores the owner talks to.
package suppliers

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/zeli-parts/partsbot/internal/util"
)

// DefaultLeadTime is assumed for local suppliers that do not state one.
const DefaultLeadTime = "1-2 días"

// RelaySupplier is a supplier queried by WhatsApp message.
type RelaySupplier struct {
	Name     string `mapstructure:"name" validate:"required"`
	Number   string `mapstructure:"number" validate:"required"`
	LeadTime string `mapstructure:"lead_time"`
}

// SheetSupplier publishes its inventory as a Google Sheet.
type SheetSupplier struct {
	Name     string `mapstructure:"name" validate:"required"`
	SheetID  string `mapstructure:"sheet_id" validate:"required"`
	Range    string `mapstructure:"range"`
	LeadTime string `mapstructure:"lead_time"`
}

// Store is a local parts store whose messages are relayed to the owner.
type Store struct {
	Number    string   `mapstructure:"number" validate:"required"`
	Name      string   `mapstructure:"name" validate:"required"`
	Contact   string   `mapstructure:"contact"`
	Specialty []string `mapstructure:"specialty"`
	Tier      int      `mapstructure:"tier"`
	Active    *bool    `mapstructure:"active"`
}

// IsActive reports whether the store is enabled; stores are active unless
// explicitly disabled.
func (s Store) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Directory is one consistent snapshot of every registered counterpart.
type Directory struct {
	Suppliers []RelaySupplier `mapstructure:"suppliers" validate:"dive"`
	Sheets    []SheetSupplier `mapstructure:"sheets" validate:"dive"`
	Stores    []Store         `mapstructure:"stores" validate:"dive"`
}

// normalize canonicalizes phone numbers and fills defaults.
func (d Directory) normalize() Directory {
	out := Directory{
		Suppliers: make([]RelaySupplier, 0, len(d.Suppliers)),
		Sheets:    make([]SheetSupplier, 0, len(d.Sheets)),
		Stores:    make([]Store, 0, len(d.Stores)),
	}
	for _, s := range d.Suppliers {
		if s.Number = util.MustCanonicalPhone(s.Number); s.Number == "" {
			slog.Warn("Directory: skipping supplier with invalid number", "name", s.Name)
			continue
		}
		if s.LeadTime == "" {
			s.LeadTime = DefaultLeadTime
		}
		out.Suppliers = append(out.Suppliers, s)
	}
	for _, s := range d.Sheets {
		if s.LeadTime == "" {
			s.LeadTime = DefaultLeadTime
		}
		out.Sheets = append(out.Sheets, s)
	}
	for _, s := range d.Stores {
		if s.Number = util.MustCanonicalPhone(s.Number); s.Number == "" {
			slog.Warn("Directory: skipping store with invalid number", "name", s.Name)
			continue
		}
		if s.Tier == 0 {
			s.Tier = 1
		}
		out.Stores = append(out.Stores, s)
	}
	return out
}

// Supplier returns the relay supplier registered under number.
func (d Directory) Supplier(number string) (RelaySupplier, bool) {
	for _, s := range d.Suppliers {
		if s.Number == number {
			return s, true
		}
	}
	return RelaySupplier{}, false
}

// Store returns the active store registered under number.
func (d Directory) Store(number string) (Store, bool) {
	for _, s := range d.Stores {
		if s.Number == number && s.IsActive() {
			return s, true
		}
	}
	return Store{}, false
}

// StoresSummary renders the active stores for the owner.
func (d Directory) StoresSummary() string {
	var active []Store
	for _, s := range d.Stores {
		if s.IsActive() {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return "No hay tiendas locales registradas."
	}
	blocks := []string{fmt.Sprintf("🏪 *Tiendas locales registradas (%d):*", len(active))}
	for _, s := range active {
		specialty := strings.Join(s.Specialty, ", ")
		if specialty == "" {
			specialty = "General"
		}
		contact := s.Contact
		if contact == "" {
			contact = "—"
		}
		blocks = append(blocks, fmt.Sprintf("• *%s* (Tier %d)\n  Contacto: %s\n  Especialidad: %s\n  Número: %s",
			s.Name, s.Tier, contact, specialty, util.DisplayPhone(s.Number)))
	}
	return strings.Join(blocks, "\n\n")
}

// Registry serves the current Directory and reloads it when the file changes.
type Registry struct {
	mu  sync.RWMutex
	dir Directory
	v   *viper.Viper
}

// NewRegistry returns a Registry holding a fixed directory.
func NewRegistry(dir Directory) *Registry {
	return &Registry{dir: dir.normalize()}
}

// LoadRegistry reads path (YAML, JSON or TOML) and watches it for changes.
// An invalid edit keeps the previous directory in service.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	dir, err := decodeDirectory(v)
	if err != nil {
		return nil, err
	}
	r := &Registry{dir: dir, v: v}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decodeDirectory(v)
		if err != nil {
			slog.Error("Registry: reload rejected, keeping previous directory", "file", e.Name, "error", err)
			return
		}
		r.mu.Lock()
		r.dir = next
		r.mu.Unlock()
		slog.Info("Registry: directory reloaded", "file", e.Name,
			"suppliers", len(next.Suppliers), "sheets", len(next.Sheets), "stores", len(next.Stores))
	})
	v.WatchConfig()

	slog.Info("Registry: directory loaded", "file", path,
		"suppliers", len(dir.Suppliers), "sheets", len(dir.Sheets), "stores", len(dir.Stores))
	return r, nil
}

func decodeDirectory(v *viper.Viper) (Directory, error) {
	var dir Directory
	if err := v.Unmarshal(&dir); err != nil {
		return Directory{}, fmt.Errorf("decode directory: %w", err)
	}
	if err := validator.New().Struct(dir); err != nil {
		return Directory{}, fmt.Errorf("validate directory: %w", err)
	}
	return dir.normalize(), nil
}

// Current returns the directory in service.
func (r *Registry) Current() Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// SheetLookups builds one lookup per sheet supplier currently registered.
// A nil reader yields none.
func (r *Registry) SheetLookups(reader ValuesReader, defaultRange string) []*SheetLookup {
	if reader == nil {
		return nil
	}
	sheets := r.Current().Sheets
	out := make([]*SheetLookup, 0, len(sheets))
	for _, s := range sheets {
		out = append(out, NewSheetLookup(reader, s, defaultRange))
	}
	return out
}

// Replace swaps the directory, e.g. after the owner edits it.
func (r *Registry) Replace(dir Directory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir.normalize()
}
