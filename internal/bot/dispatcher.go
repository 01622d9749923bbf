// Package bot routes inbound WhatsApp messages by sender: the owner, relay
// suppliers, registered stores and customers each reach their own desk.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/escalation"
	"github.com/zeli-parts/partsbot/internal/intent"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/monitor"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/store"
	"github.com/zeli-parts/partsbot/internal/suppliers"
	"github.com/zeli-parts/partsbot/internal/util"
)

// Owner commands.
const (
	StatusCommand = "estado"
	StoresCommand = "tiendas"
)

// Sender roles, used as metric labels.
const (
	RoleOwner    = "owner"
	RoleSupplier = "supplier"
	RoleStore    = "store"
	RoleCustomer = "customer"
)

const panicAlertCooldown = 5 * time.Minute

// Conversations is the customer request flow.
type Conversations interface {
	HandleMessage(ctx context.Context, customer, text string)
	Count(ctx context.Context) int
}

// Quotes is the approval and selection desk.
type Quotes interface {
	HandleOwnerReply(ctx context.Context, text, replyTo string) string
	HasSelection(customer string) bool
	HandleSelection(ctx context.Context, customer, text string) bool
	Counts() (approvals, selections int)
}

// Live is the escalation desk.
type Live interface {
	IsLive(customer string) bool
	LiveCount() int
	Start(ctx context.Context, customer, text string)
	Take(ctx context.Context, args string) string
	End(ctx context.Context, customer string) string
	RelayFromCustomer(ctx context.Context, customer, text string)
	ForwardImage(ctx context.Context, customer, mediaURL, caption string)
	RelayFromStore(ctx context.Context, number, name, text string)
	HandleOwnerReply(ctx context.Context, text, replyTo string) (string, bool)
}

// Relay reads relay supplier answers.
type Relay interface {
	IsSupplier(number string) bool
	OnSupplierReply(ctx context.Context, from, text string) (*suppliers.LateOffer, error)
}

// Directory returns the current supplier and store directory.
type Directory interface {
	Current() suppliers.Directory
}

// Monitor is the operator alert and stats surface.
type Monitor interface {
	TrackMessage(ctx context.Context) int
	Stats() models.DailyStats
	IncErrors()
	Alert(ctx context.Context, typ, key string, cooldown time.Duration, text string) bool
}

// Deps holds the collaborators of a Dispatcher. Relay, Directory, Dedup and
// Errors may be nil.
type Deps struct {
	Owner         string
	Out           messaging.Messenger
	Render        *reply.Renderer
	Conversations Conversations
	Quotes        Quotes
	Live          Live
	Relay         Relay
	Directory     Directory
	Monitor       Monitor
	Dedup         store.DedupRepo
	Errors        *apperrors.Handler
	Markup        float64
}

// Dispatcher serializes messages per sender and routes them.
type Dispatcher struct {
	Deps

	locks *keyedLocker
	wg    conc.WaitGroup
}

// New creates a Dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.Markup <= 0 {
		deps.Markup = models.DefaultMarkup
	}
	return &Dispatcher{Deps: deps, locks: newKeyedLocker()}
}

// Lock takes the per-sender lock for key and returns its release. The
// session sweeper shares it so a purge never races a live turn.
func (d *Dispatcher) Lock(key string) func() {
	return d.locks.Lock(key)
}

// Run handles messages from in until ctx is cancelled or in is closed,
// then waits for in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.Inbound) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping", "reason", ctx.Err())
			return
		case msg, ok := <-in:
			if !ok {
				slog.Info("Dispatcher.Run: inbound channel closed")
				return
			}
			d.wg.Go(func() { d.Handle(ctx, msg) })
		}
	}
}

// Handle processes one inbound message under the sender's lock.
func (d *Dispatcher) Handle(ctx context.Context, in models.Inbound) {
	if in.From == "" {
		return
	}
	unlock := d.Lock(in.From)
	defer unlock()
	defer d.recoverPanic(ctx, in)

	if !d.firstDelivery(in) {
		slog.Info("Dispatcher.Handle: duplicate delivery dropped", "message_id", in.MessageID, "from", in.From)
		return
	}
	if d.Monitor != nil {
		d.Monitor.TrackMessage(ctx)
	}

	role := d.route(ctx, in)
	monitor.RecordInbound(role)

	if d.Dedup != nil && in.MessageID != "" {
		if err := d.Dedup.MarkProcessed(in.MessageID); err != nil {
			slog.Warn("Dispatcher.Handle: mark processed failed", "message_id", in.MessageID, "error", err)
		}
	}
}

func (d *Dispatcher) firstDelivery(in models.Inbound) bool {
	if d.Dedup == nil || in.MessageID == "" {
		return true
	}
	fresh, err := d.Dedup.RecordInbound(in.MessageID, in.From)
	if err != nil {
		// A broken dedup table must not stop the bot.
		slog.Error("Dispatcher.firstDelivery: dedup check failed", "message_id", in.MessageID, "error", err)
		return true
	}
	return fresh
}

func (d *Dispatcher) recoverPanic(ctx context.Context, in models.Inbound) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("Dispatcher.Handle: panic recovered", "from", in.From, "panic", r, "stack", string(debug.Stack()))
	err := apperrors.NewPanicError(r)
	if d.Errors != nil {
		d.Errors.Handle(ctx, err)
	}
	if d.Monitor != nil {
		d.Monitor.IncErrors()
		d.Monitor.Alert(ctx, "handler_panic", "handler_panic", panicAlertCooldown,
			fmt.Sprintf("🚨 *Error interno*\nMensaje de %s\n%v", util.DisplayPhone(in.From), r))
	}
}

// route dispatches by sender identity and returns the sender's role.
func (d *Dispatcher) route(ctx context.Context, in models.Inbound) string {
	if in.From == d.Owner {
		d.handleOwner(ctx, in)
		return RoleOwner
	}
	if d.Relay != nil && d.Relay.IsSupplier(in.From) {
		d.handleSupplier(ctx, in)
		return RoleSupplier
	}
	if d.Directory != nil {
		if st, ok := d.Directory.Current().Store(in.From); ok {
			d.Live.RelayFromStore(ctx, in.From, st.Name, in.Text)
			return RoleStore
		}
	}
	d.handleCustomer(ctx, in)
	return RoleCustomer
}

func (d *Dispatcher) handleOwner(ctx context.Context, in models.Inbound) {
	if resp, handled := d.Live.HandleOwnerReply(ctx, in.Text, in.ReplyToID); handled {
		d.toOwner(ctx, resp)
		return
	}
	if resp, ok := d.ownerCommand(ctx, in.Text); ok {
		d.toOwner(ctx, resp)
		return
	}
	d.toOwner(ctx, d.Quotes.HandleOwnerReply(ctx, in.Text, in.ReplyToID))
}

// ownerCommand runs estado, tiendas, tomar and fin. ok is false for any
// other text.
func (d *Dispatcher) ownerCommand(ctx context.Context, text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", false
	}
	cmd := util.Normalize(fields[0])
	args := strings.Join(fields[1:], " ")
	switch {
	case cmd == StatusCommand && args == "":
		return monitor.StatusText(d.Status(ctx)), true
	case cmd == StoresCommand && args == "":
		if d.Directory == nil {
			return suppliers.Directory{}.StoresSummary(), true
		}
		return d.Directory.Current().StoresSummary(), true
	case cmd == escalation.TakeCommand:
		return d.Live.Take(ctx, args), true
	case cmd == escalation.EndCommand && args != "":
		customer, err := util.CanonicalPhone(args)
		if err != nil {
			return "Uso: *fin <número>*", true
		}
		return d.Live.End(ctx, customer), true
	}
	return "", false
}

func (d *Dispatcher) handleSupplier(ctx context.Context, in models.Inbound) {
	offer, err := d.Relay.OnSupplierReply(ctx, in.From, in.Text)
	if err != nil {
		slog.Warn("Dispatcher.handleSupplier: supplier reply not understood", "from", in.From, "error", err)
		if d.Monitor != nil {
			d.Monitor.IncErrors()
		}
		return
	}
	if offer == nil {
		return
	}
	d.toOwner(ctx, suppliers.LateOfferText(*offer, d.Markup))
}

func (d *Dispatcher) handleCustomer(ctx context.Context, in models.Inbound) {
	customer := in.From
	if d.Live.IsLive(customer) {
		if in.MediaURL != "" {
			d.Live.ForwardImage(ctx, customer, in.MediaURL, in.Text)
			return
		}
		d.Live.RelayFromCustomer(ctx, customer, in.Text)
		return
	}

	if in.HasImage() {
		d.Out.Send(ctx, customer, d.Render.Render(reply.ImageReceived{}), nil)
		d.Live.ForwardImage(ctx, customer, in.MediaURL, "")
		return
	}
	if in.Text == "" {
		return
	}

	if d.Quotes.HasSelection(customer) {
		if intent.IsHumanRequest(in.Text) {
			d.Live.Start(ctx, customer, in.Text)
			return
		}
		d.Quotes.HandleSelection(ctx, customer, in.Text)
		return
	}

	d.Conversations.HandleMessage(ctx, customer, in.Text)
}

func (d *Dispatcher) toOwner(ctx context.Context, text string) {
	if text == "" || d.Owner == "" {
		return
	}
	d.Out.Send(ctx, d.Owner, text, nil)
}

// Status returns a snapshot of the bot and publishes it as metrics.
func (d *Dispatcher) Status(ctx context.Context) models.Status {
	approvals, selections := d.Quotes.Counts()
	st := models.Status{
		ActiveConversations: d.Conversations.Count(ctx),
		PendingApprovals:    approvals,
		PendingSelections:   selections,
		LiveSessions:        d.Live.LiveCount(),
	}
	if d.Monitor != nil {
		st.Today = d.Monitor.Stats()
	}
	monitor.SetStatus(st)
	return st
}
