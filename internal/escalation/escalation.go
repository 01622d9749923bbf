// Package escalation hands customers to the owner for live conversation and
// relays messages between the owner and registered local stores.
//
// Every message forwarded to the owner is mapped by its outbound message ID,
// so the owner answers a customer or store by replying to that message.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/util"
)

// Owner commands handled here.
const (
	EndCommand  = "fin"
	TakeCommand = "tomar"
)

// DefaultMappingTTL bounds how long a forwarded message can be replied to.
const DefaultMappingTTL = 72 * time.Hour

// Owner-facing texts.
const (
	DeliveredText = "✅ Mensaje enviado al cliente."
	NoLiveText    = "No hay sesión en vivo con ese número."
	TakeUsageText = "Uso: *tomar <número>*"
)

// Sessions drops the bot conversation of a customer who goes live.
type Sessions interface {
	Drop(ctx context.Context, customer string)
}

type target struct {
	number string
	store  string // set for store relays
	at     time.Time
}

// Option configures a Desk.
type Option func(*Desk)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Desk) { d.now = now }
}

// WithMappingTTL sets how long forwarded messages stay answerable.
func WithMappingTTL(ttl time.Duration) Option {
	return func(d *Desk) { d.ttl = ttl }
}

// WithSessions drops bot conversations when a live session starts.
func WithSessions(s Sessions) Option {
	return func(d *Desk) { d.sessions = s }
}

// Desk tracks live sessions and reply mappings.
type Desk struct {
	out      messaging.Messenger
	owner    string
	render   *reply.Renderer
	sessions Sessions
	now      func() time.Time
	ttl      time.Duration

	mu      sync.Mutex
	live    map[string]time.Time
	mapping map[string]target
}

// NewDesk creates a Desk forwarding to owner.
func NewDesk(out messaging.Messenger, owner string, render *reply.Renderer, opts ...Option) *Desk {
	d := &Desk{
		out:     out,
		owner:   owner,
		render:  render,
		now:     time.Now,
		ttl:     DefaultMappingTTL,
		live:    make(map[string]time.Time),
		mapping: make(map[string]target),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsLive reports whether customer is talking to the owner.
func (d *Desk) IsLive(customer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[customer]
	return ok
}

// LiveCount returns the number of live sessions.
func (d *Desk) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// forward sends text to the owner and maps the sent message to t.
func (d *Desk) forward(ctx context.Context, text string, t target) {
	if d.owner == "" {
		slog.Warn("Desk.forward: owner number not configured", "to", t.number)
		return
	}
	d.out.Send(ctx, d.owner, text, func(messageID string) {
		d.mu.Lock()
		defer d.mu.Unlock()
		now := d.now()
		for id, m := range d.mapping {
			if now.Sub(m.at) > d.ttl {
				delete(d.mapping, id)
			}
		}
		t.at = now
		d.mapping[messageID] = t
	})
}

// Start opens a live session at the customer's request. A customer already
// live just has the message relayed.
func (d *Desk) Start(ctx context.Context, customer, text string) {
	d.mu.Lock()
	_, already := d.live[customer]
	if !already {
		d.live[customer] = d.now()
	}
	d.mu.Unlock()

	if already {
		d.RelayFromCustomer(ctx, customer, text)
		return
	}
	if d.sessions != nil {
		d.sessions.Drop(ctx, customer)
	}
	d.forward(ctx, fmt.Sprintf("🔴 *Sesión en vivo iniciada*\nCliente: %s\nMensaje: \"%s\"\n\n"+
		"_Responde a este mensaje para hablarle directamente. Escribe *fin* para terminar la sesión y devolver el control al bot._",
		util.DisplayPhone(customer), text), target{number: customer})
	d.out.Send(ctx, customer, d.render.Render(reply.LiveStarted{}), nil)
	slog.Info("Desk.Start: live session started", "customer", customer)
}

// Take opens a live session on the owner's initiative ("tomar <número>").
// The owner gets the session message to reply to; the returned text is a
// usage hint for a bad number and empty otherwise.
func (d *Desk) Take(ctx context.Context, args string) string {
	customer, err := util.CanonicalPhone(args)
	if err != nil {
		return TakeUsageText
	}
	d.mu.Lock()
	d.live[customer] = d.now()
	d.mu.Unlock()
	if d.sessions != nil {
		d.sessions.Drop(ctx, customer)
	}
	d.forward(ctx, fmt.Sprintf("🔴 *Sesión en vivo iniciada*\nCliente: %s\n\n"+
		"_Responde a este mensaje para hablarle directamente. Escribe *fin* para terminar la sesión y devolver el control al bot._",
		util.DisplayPhone(customer)), target{number: customer})
	slog.Info("Desk.Take: owner took over", "customer", customer)
	return ""
}

// End closes a live session and hands the customer back to the bot.
func (d *Desk) End(ctx context.Context, customer string) string {
	d.mu.Lock()
	_, ok := d.live[customer]
	delete(d.live, customer)
	for id, m := range d.mapping {
		if m.number == customer && m.store == "" {
			delete(d.mapping, id)
		}
	}
	d.mu.Unlock()
	if !ok {
		return NoLiveText
	}
	d.out.Send(ctx, customer, d.render.Render(reply.LiveEnded{}), nil)
	slog.Info("Desk.End: live session ended", "customer", customer)
	return fmt.Sprintf("✅ Sesión terminada. Bot activo para %s.", util.DisplayPhone(customer))
}

// RelayFromCustomer forwards a live customer's message to the owner.
func (d *Desk) RelayFromCustomer(ctx context.Context, customer, text string) {
	d.forward(ctx, fmt.Sprintf("💬 *%s:*\n%s", util.DisplayPhone(customer), text), target{number: customer})
}

// ForwardImage sends a customer photo to the owner; the owner can answer by
// replying to it.
func (d *Desk) ForwardImage(ctx context.Context, customer, mediaURL, caption string) {
	text := fmt.Sprintf("📷 *Imagen de %s:*\n%s", util.DisplayPhone(customer), mediaURL)
	if caption != "" {
		text += "\n" + caption
	}
	d.forward(ctx, text, target{number: customer})
}

// RelayFromStore forwards a store's message to the owner.
func (d *Desk) RelayFromStore(ctx context.Context, number, name, text string) {
	if name == "" {
		name = util.DisplayPhone(number)
	}
	d.forward(ctx, fmt.Sprintf("🏪 *%s:*\n%s", name, text), target{number: number, store: name})
}

// HandleOwnerReply routes an owner reply to the customer or store behind
// replyTo. handled is false when replyTo is not a forwarded message. A
// mapping answers one reply; the next message from the customer or store
// gives the owner a new one.
func (d *Desk) HandleOwnerReply(ctx context.Context, text, replyTo string) (resp string, handled bool) {
	if replyTo == "" {
		return "", false
	}
	d.mu.Lock()
	t, ok := d.mapping[replyTo]
	d.mu.Unlock()
	if !ok {
		return "", false
	}

	if t.store != "" {
		d.consume(replyTo)
		d.out.Send(ctx, t.number, d.render.Render(reply.OwnerMessage{Text: text}), nil)
		return fmt.Sprintf("✅ Mensaje enviado a %s.", t.store), true
	}
	if strings.EqualFold(strings.TrimSpace(text), EndCommand) {
		return d.End(ctx, t.number), true
	}
	d.consume(replyTo)
	d.out.Send(ctx, t.number, d.render.Render(reply.OwnerMessage{Text: text}), nil)
	return DeliveredText, true
}

func (d *Desk) consume(messageID string) {
	d.mu.Lock()
	delete(d.mapping, messageID)
	d.mu.Unlock()
}
