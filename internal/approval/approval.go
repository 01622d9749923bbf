// Package approval holds sourced options until the owner sets final prices,
// then holds the resulting quote until the customer picks an option.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zeli-parts/partsbot/internal/intent"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/store"
	"github.com/zeli-parts/partsbot/internal/util"
)

// CancelCommand withdraws the most recent pending approval.
const CancelCommand = "cancelar"

// Owner-facing fixed texts.
const (
	NoPendingText   = "No hay órdenes pendientes."
	CancelledText   = "❌ Orden cancelada. Cliente notificado."
	BadPricesText   = "No entendí los precios. Responde con números separados por coma.\nEjemplo: *195,222*\nO escribe *cancelar* para cancelar."
	noMatchTemplate = "No encontré una orden pendiente que coincida.\nÓrdenes pendientes: %d"
)

// Timers cancels and arms the deferred nudges tied to an approval.
type Timers interface {
	ScheduleLongWait(ctx context.Context, approval models.PendingApproval, since time.Time) error
	CancelLongWait(ctx context.Context, approvalID string)
	CancelReminder(ctx context.Context, customer string)
}

// Stats counts quotes and orders.
type Stats interface {
	QuoteSent(since time.Time)
	OrderConfirmed()
}

// ChoiceInterpreter maps a free-text answer to a 0-based option index.
type ChoiceInterpreter interface {
	InterpretChoice(ctx context.Context, message string, options []models.Option, prices []float64) (int, bool, error)
}

// Conversations updates the customer's conversation as orders settle.
type Conversations interface {
	// Release returns a waiting conversation to ACTIVE with an empty queue.
	Release(ctx context.Context, customer string)
	// Close ends the conversation.
	Close(ctx context.Context, customer string)
}

// Alerts reports audit writes that failed.
type Alerts interface {
	AuditFailed(ctx context.Context, err error, summary string)
}

// Deps are the collaborators of a Desk.
type Deps struct {
	Out           messaging.Messenger
	Owner         string
	Render        *reply.Renderer
	Audit         store.AuditLog
	Timers        Timers
	Stats         Stats
	NLU           ChoiceInterpreter
	Conversations Conversations
	Alerts        Alerts
}

// Desk tracks pending approvals (oldest first) and per-customer selection
// queues.
type Desk struct {
	Deps
	now func() time.Time

	mu         sync.Mutex
	approvals  []models.PendingApproval
	byMessage  map[string]string
	selections map[string][]models.PendingSelection
}

// NewDesk creates a Desk.
func NewDesk(deps Deps, now func() time.Time) *Desk {
	if now == nil {
		now = time.Now
	}
	return &Desk{
		Deps:       deps,
		now:        now,
		byMessage:  make(map[string]string),
		selections: make(map[string][]models.PendingSelection),
	}
}

// Submit registers an approval, records it and asks the owner for prices.
func (d *Desk) Submit(ctx context.Context, ap models.PendingApproval) error {
	if len(ap.Options) == 0 {
		return fmt.Errorf("approval for %s has no options", ap.Customer)
	}
	if ap.ID == "" {
		ap.ID = uuid.NewString()
	}
	if ap.CreatedAt.IsZero() {
		ap.CreatedAt = d.now()
	}
	if ap.SourcingStart.IsZero() {
		ap.SourcingStart = ap.CreatedAt
	}
	ap.Status = models.ApprovalStatusAwaiting

	d.mu.Lock()
	d.approvals = append(d.approvals, ap)
	d.mu.Unlock()

	d.audit(ctx, models.AuditEntry{Customer: ap.Customer, Raw: ap.Raw, Item: ap.Item, Options: ap.Options, Status: models.AuditPendingApproval})
	d.Dispatch(ctx, ap)
	if err := d.Timers.ScheduleLongWait(ctx, ap, ap.SourcingStart); err != nil {
		slog.Warn("Desk.Submit: long-wait alert not scheduled", "approval_id", ap.ID, "error", err)
	}
	slog.Info("Desk.Submit: approval pending", "approval_id", ap.ID, "customer", ap.Customer, "options", len(ap.Options))
	return nil
}

// Dispatch sends the approval request to the owner and maps the sent
// message to the approval for reply-to correlation.
func (d *Desk) Dispatch(ctx context.Context, ap models.PendingApproval) {
	d.Out.Send(ctx, d.Owner, ApprovalText(ap), func(messageID string) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.byMessage[messageID] = ap.ID
		for i := range d.approvals {
			if d.approvals[i].ID == ap.ID {
				d.approvals[i].OwnerMessageID = messageID
			}
		}
	})
}

// ApprovalText is the owner's view of an approval.
func ApprovalText(ap models.PendingApproval) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔩 *Nueva solicitud*\nCliente: %s\nPieza: %s\n\n", util.DisplayPhone(ap.Customer), ap.Item.String())
	for i, o := range ap.Options {
		fmt.Fprintf(&b, "*Opción %d* %s\nProveedor: %s\nCosto: %s\nPrecio sugerido: %s\nMargen: %s\nEntrega: %s\n",
			i+1, o.Label, o.SupplierName, reply.Money(o.Cost), reply.Money(o.SuggestedPrice), reply.Money(o.Margin), o.LeadTime)
		if o.Notes != "" {
			fmt.Fprintf(&b, "Notas: %s\n", o.Notes)
		}
		b.WriteString("\n")
	}
	examples := lo.Map(ap.Options, func(o models.Option, _ int) string {
		return strconv.FormatFloat(o.SuggestedPrice, 'f', -1, 64)
	})
	b.WriteString("━━━━━━━━━━━━━━━━\nResponde con precios finales separados por coma:\n")
	fmt.Fprintf(&b, "Ejemplo: *%s*\n\nO escribe *cancelar* para no cotizar.", strings.Join(examples, ","))
	return b.String()
}

// ParsePrices reads "195, $222" as [195 222]. Every element must be a
// non-negative number.
func ParsePrices(text string) ([]float64, bool) {
	parts := strings.Split(text, ",")
	prices := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(strings.TrimSpace(p), "$", "")
		p = strings.ReplaceAll(p, " ", "")
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		prices = append(prices, v)
	}
	return prices, len(prices) > 0
}

// HandleOwnerReply processes "cancelar" or a price list and returns the
// confirmation for the owner.
func (d *Desk) HandleOwnerReply(ctx context.Context, text, replyTo string) string {
	msg := strings.ToLower(strings.TrimSpace(text))
	if msg == CancelCommand {
		return d.cancelLatest(ctx)
	}

	prices, ok := ParsePrices(msg)
	if !ok {
		return BadPricesText
	}

	ap, ok, pending := d.takeMatch(replyTo, len(prices))
	if !ok {
		if pending == 0 {
			return NoPendingText
		}
		return fmt.Sprintf(noMatchTemplate, pending)
	}

	n := min(len(prices), len(ap.Options))
	sel := models.PendingSelection{
		ApprovalID:  ap.ID,
		Customer:    ap.Customer,
		Item:        ap.Item,
		Options:     append([]models.Option(nil), ap.Options[:n]...),
		FinalPrices: append([]float64(nil), prices[:n]...),
		CreatedAt:   d.now(),
	}
	d.mu.Lock()
	d.selections[ap.Customer] = append(d.selections[ap.Customer], sel)
	d.mu.Unlock()

	d.Out.Send(ctx, ap.Customer, d.Render.Render(reply.Quote{Item: ap.Item, Options: sel.Options, Prices: sel.FinalPrices}), nil)
	d.Timers.CancelLongWait(ctx, ap.ID)
	d.Timers.CancelReminder(ctx, ap.Customer)
	d.audit(ctx, models.AuditEntry{
		Customer: ap.Customer, Raw: ap.Raw, Item: ap.Item,
		Options: sel.Options, FinalPrices: sel.FinalPrices, Status: models.AuditQuoted,
	})
	d.Stats.QuoteSent(ap.SourcingStart)

	slog.Info("Desk.HandleOwnerReply: quote sent", "approval_id", ap.ID, "customer", ap.Customer, "prices", sel.FinalPrices)
	display := lo.Map(sel.FinalPrices, func(p float64, _ int) string { return reply.Money(p) })
	return fmt.Sprintf("✅ Cotización enviada\nPieza: %s\nPrecios: %s\nEsperando selección del cliente.",
		ap.Item.String(), strings.Join(display, " / "))
}

// takeMatch removes and returns the approval the owner's prices belong to:
// the replied-to approval, else the oldest one with as many options as
// prices, else the only one pending. pending is the count left unmatched.
func (d *Desk) takeMatch(replyTo string, count int) (ap models.PendingApproval, ok bool, pending int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	if id, found := d.byMessage[replyTo]; replyTo != "" && found {
		_, idx, _ = lo.FindIndexOf(d.approvals, func(a models.PendingApproval) bool { return a.ID == id })
	}
	if idx < 0 {
		_, idx, _ = lo.FindIndexOf(d.approvals, func(a models.PendingApproval) bool {
			return a.Status == models.ApprovalStatusAwaiting && len(a.Options) == count
		})
	}
	if idx < 0 && len(d.approvals) == 1 {
		idx = 0
	}
	if idx < 0 {
		return models.PendingApproval{}, false, len(d.approvals)
	}
	return d.removeLocked(idx), true, 0
}

func (d *Desk) removeLocked(idx int) models.PendingApproval {
	ap := d.approvals[idx]
	d.approvals = append(d.approvals[:idx], d.approvals[idx+1:]...)
	if ap.OwnerMessageID != "" {
		delete(d.byMessage, ap.OwnerMessageID)
	}
	return ap
}

func (d *Desk) cancelLatest(ctx context.Context) string {
	d.mu.Lock()
	if len(d.approvals) == 0 {
		d.mu.Unlock()
		return NoPendingText
	}
	ap := d.removeLocked(len(d.approvals) - 1)
	idle := d.idleLocked(ap.Customer)
	d.mu.Unlock()

	d.Out.Send(ctx, ap.Customer, d.Render.Render(reply.Unavailable{}), nil)
	d.Timers.CancelLongWait(ctx, ap.ID)
	if idle {
		d.Conversations.Release(ctx, ap.Customer)
	}
	slog.Info("Desk.cancelLatest: approval cancelled", "approval_id", ap.ID, "customer", ap.Customer)
	return CancelledText
}

// idleLocked reports whether customer has nothing left in flight.
func (d *Desk) idleLocked(customer string) bool {
	if len(d.selections[customer]) > 0 {
		return false
	}
	return !lo.ContainsBy(d.approvals, func(a models.PendingApproval) bool { return a.Customer == customer })
}

// HasSelection reports whether customer owes an option choice.
func (d *Desk) HasSelection(customer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.selections[customer]) > 0
}

// IsPending reports whether an approval still awaits the owner.
func (d *Desk) IsPending(approvalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.ContainsBy(d.approvals, func(a models.PendingApproval) bool { return a.ID == approvalID })
}

// Counts returns the pending approvals and pending selections.
func (d *Desk) Counts() (approvals, selections int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.selections {
		selections += len(q)
	}
	return len(d.approvals), selections
}

// HandleSelection resolves the customer's answer to the oldest quote they
// hold. It returns false when the customer holds none.
func (d *Desk) HandleSelection(ctx context.Context, customer, text string) bool {
	d.mu.Lock()
	queue := d.selections[customer]
	if len(queue) == 0 {
		d.mu.Unlock()
		return false
	}
	sel := queue[0]
	d.mu.Unlock()

	choice, ok := d.resolveChoice(ctx, sel, text)
	if !ok {
		d.Out.Send(ctx, customer, d.Render.Render(reply.SelectionPrompt{Count: len(sel.Options)}), nil)
		return true
	}

	d.mu.Lock()
	queue = d.selections[customer]
	if len(queue) == 0 || queue[0].ApprovalID != sel.ApprovalID {
		// Resolved concurrently.
		d.mu.Unlock()
		return true
	}
	if len(queue) == 1 {
		delete(d.selections, customer)
	} else {
		d.selections[customer] = queue[1:]
	}
	idle := d.idleLocked(customer)
	d.mu.Unlock()

	opt, price := sel.Options[choice], sel.FinalPrices[choice]
	d.Out.Send(ctx, customer, d.Render.Render(reply.SelectionConfirmed{Item: sel.Item, Option: opt, Price: price}), nil)
	d.Out.Send(ctx, d.Owner, fmt.Sprintf("🎯 *Cliente confirmó opción %d*\nPieza: %s\nPrecio: %s\nProveedor: %s\nEntrega: %s\nCliente: %s",
		choice+1, sel.Item.String(), reply.Money(price), opt.SupplierName, opt.LeadTime, util.DisplayPhone(customer)), nil)
	d.audit(ctx, models.AuditEntry{
		Customer: customer, Raw: text, Item: sel.Item, Options: sel.Options,
		FinalPrices: sel.FinalPrices, Chosen: choice + 1, Status: models.AuditConfirmed,
	})
	d.Stats.OrderConfirmed()
	d.Timers.CancelLongWait(ctx, sel.ApprovalID)
	if idle {
		d.Conversations.Close(ctx, customer)
	}
	slog.Info("Desk.HandleSelection: order confirmed", "customer", customer, "option", choice+1, "supplier", opt.SupplierName)
	return true
}

// resolveChoice tries a bare number, then a plain yes when only one option
// was offered, then the language model.
func (d *Desk) resolveChoice(ctx context.Context, sel models.PendingSelection, text string) (int, bool) {
	n := len(sel.Options)
	if v, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
		return v - 1, v >= 1 && v <= n
	}
	if n == 1 && intent.IsBroadAffirmative(text) {
		return 0, true
	}
	if d.NLU == nil {
		return 0, false
	}
	idx, ok, err := d.NLU.InterpretChoice(ctx, text, sel.Options, sel.FinalPrices)
	if err != nil {
		slog.Warn("Desk.resolveChoice: interpret failed", "customer", sel.Customer, "error", err)
		return 0, false
	}
	return idx, ok && idx >= 0 && idx < n
}

func (d *Desk) audit(ctx context.Context, entry models.AuditEntry) {
	if d.Audit == nil {
		return
	}
	entry.Timestamp = d.now()
	if err := d.Audit.Append(ctx, entry); err != nil {
		slog.Error("Desk.audit: append failed", "customer", entry.Customer, "status", entry.Status, "error", err)
		if d.Alerts != nil {
			d.Alerts.AuditFailed(ctx, err, entry.Item.String())
		}
	}
}
