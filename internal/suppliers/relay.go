package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeli-parts/partsbot/internal/genai"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/pricing"
)

// SourceRelay tags results that came back from a relay supplier.
const SourceRelay = "whatsapp_supplier"

// DefaultRelayQueryTTL bounds how long an unanswered query is kept.
const DefaultRelayQueryTTL = 24 * time.Hour

var tokenPattern = regexp.MustCompile(`#([0-9a-fA-F]{6})\b`)

// PendingRelayQuery is a question sent to a relay supplier awaiting an answer.
type PendingRelayQuery struct {
	Token    string
	Supplier RelaySupplier
	Customer string
	Item     models.RequestItem
	SentAt   time.Time
}

// LateOffer is a supplier answer that arrived after sourcing finished.
type LateOffer struct {
	Query  PendingRelayQuery
	Result models.SupplierResult
}

// ReplyParser is the language-model call that reads supplier answers.
type ReplyParser interface {
	ParseSupplierReply(ctx context.Context, message string, item models.RequestItem) (genai.SupplierReply, error)
}

// RelayOption configures a RelayDesk.
type RelayOption func(*RelayDesk)

// WithRelayClock overrides time.Now.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(d *RelayDesk) { d.now = now }
}

// WithQueryTTL sets how long unanswered queries are kept.
func WithQueryTTL(ttl time.Duration) RelayOption {
	return func(d *RelayDesk) { d.ttl = ttl }
}

// RelayDesk sends availability queries to relay suppliers and correlates
// their free-text answers.
type RelayDesk struct {
	out      messaging.Messenger
	registry *Registry
	parser   ReplyParser
	now      func() time.Time
	ttl      time.Duration

	mu      sync.Mutex
	pending map[string]PendingRelayQuery
}

// NewRelayDesk creates a RelayDesk.
func NewRelayDesk(out messaging.Messenger, registry *Registry, parser ReplyParser, opts ...RelayOption) *RelayDesk {
	d := &RelayDesk{
		out:      out,
		registry: registry,
		parser:   parser,
		now:      time.Now,
		ttl:      DefaultRelayQueryTTL,
		pending:  make(map[string]PendingRelayQuery),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// QueryText is the message a relay supplier receives.
func QueryText(token string, item models.RequestItem) string {
	var b strings.Builder
	b.WriteString("🔍 Consulta de disponibilidad #" + token + ":\n")
	b.WriteString("Pieza: " + item.Part + "\n")
	b.WriteString("Vehículo: " + item.Vehicle() + "\n")
	if item.PartNumber != "" {
		b.WriteString("N° de parte: " + item.PartNumber + "\n")
	}
	b.WriteString("¿Tienen disponible? ¿Precio y tiempo de entrega a Santiago?\n")
	b.WriteString("(Por favor incluya #" + token + " en su respuesta)")
	return b.String()
}

// Dispatch queries every relay supplier about item without waiting for
// answers. It returns the tokens sent.
func (d *RelayDesk) Dispatch(ctx context.Context, customer string, item models.RequestItem) []string {
	suppliers := d.registry.Current().Suppliers
	tokens := make([]string, 0, len(suppliers))
	for _, s := range suppliers {
		q := PendingRelayQuery{
			Token:    newToken(),
			Supplier: s,
			Customer: customer,
			Item:     item,
			SentAt:   d.now(),
		}
		d.mu.Lock()
		d.pending[q.Token] = q
		d.mu.Unlock()
		tokens = append(tokens, q.Token)

		d.out.Send(ctx, s.Number, QueryText(q.Token, item), nil)
		slog.Debug("RelayDesk.Dispatch: query sent", "supplier", s.Name, "token", q.Token, "customer", customer)
	}
	return tokens
}

// IsSupplier reports whether number belongs to a relay supplier.
func (d *RelayDesk) IsSupplier(number string) bool {
	_, ok := d.registry.Current().Supplier(number)
	return ok
}

// Pending returns the number of open queries.
func (d *RelayDesk) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// take removes and returns the query a reply from `from` answers: the one
// whose token appears in text, otherwise the supplier's most recent one.
func (d *RelayDesk) take(from, text string) (PendingRelayQuery, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for tok, q := range d.pending {
		if now.Sub(q.SentAt) > d.ttl {
			delete(d.pending, tok)
		}
	}

	if m := tokenPattern.FindStringSubmatch(text); m != nil {
		tok := strings.ToLower(m[1])
		if q, ok := d.pending[tok]; ok && q.Supplier.Number == from {
			delete(d.pending, tok)
			return q, true
		}
	}

	var latest PendingRelayQuery
	found := false
	for _, q := range d.pending {
		if q.Supplier.Number != from {
			continue
		}
		if !found || q.SentAt.After(latest.SentAt) {
			latest, found = q, true
		}
	}
	if found {
		delete(d.pending, latest.Token)
	}
	return latest, found
}

// OnSupplierReply correlates and parses a supplier's answer. It returns nil
// when there is no open query or the part is unavailable.
func (d *RelayDesk) OnSupplierReply(ctx context.Context, from, text string) (*LateOffer, error) {
	q, ok := d.take(from, text)
	if !ok {
		slog.Info("RelayDesk.OnSupplierReply: no open query", "from", from)
		return nil, nil
	}
	reply, err := d.parser.ParseSupplierReply(ctx, text, q.Item)
	if err != nil {
		// Keep the query open so a resent answer still correlates.
		d.mu.Lock()
		d.pending[q.Token] = q
		d.mu.Unlock()
		return nil, fmt.Errorf("parse supplier reply: %w", err)
	}
	if !reply.Available {
		slog.Info("RelayDesk.OnSupplierReply: part unavailable", "supplier", q.Supplier.Name, "token", q.Token)
		return nil, nil
	}
	lead := reply.LeadTime
	if lead == "" {
		lead = q.Supplier.LeadTime
	}
	return &LateOffer{
		Query: q,
		Result: models.SupplierResult{
			SupplierName: q.Supplier.Name,
			Cost:         reply.Price,
			LeadTime:     lead,
			Source:       SourceRelay,
			Notes:        reply.Notes,
			PartNumber:   q.Item.PartNumber,
		},
	}, nil
}

// LateOfferText renders an offer for the owner, priced with markup.
func LateOfferText(offer LateOffer, markup float64) string {
	r := offer.Result
	price := "sin precio"
	if r.Cost != nil {
		price = fmt.Sprintf("$%.2f (sugerido $%.2f)", *r.Cost, pricing.SuggestedPrice(*r.Cost, markup))
	}
	text := fmt.Sprintf("📦 *Oferta de proveedor #%s*\nProveedor: %s\nCliente: %s\nPieza: %s\nPrecio: %s\nEntrega: %s",
		offer.Query.Token, r.SupplierName, offer.Query.Customer, offer.Query.Item.String(), price, r.LeadTime)
	if r.Notes != "" {
		text += "\nNotas: " + r.Notes
	}
	return text
}
