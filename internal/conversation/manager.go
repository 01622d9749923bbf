// Package conversation drives a customer from the first message to a
// confirmed request queue. It owns the session store: other components
// reach conversations only through Release, Close and Drop.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/intent"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/session"
	"github.com/zeli-parts/partsbot/internal/vehicle"
)

// NLU is the extraction collaborator.
type NLU interface {
	Extract(ctx context.Context, message string) ([]models.RequestItem, error)
	ExtractMissing(ctx context.Context, message string, known models.RequestItem) (models.RequestItem, bool, error)
	ExtractCorrection(ctx context.Context, message string, current models.RequestItem) (models.RequestItem, bool, error)
	DetectNeedsHuman(ctx context.Context, message string) (bool, error)
}

// Sourcer starts background sourcing of a confirmed queue.
type Sourcer interface {
	Start(ctx context.Context, customer, raw string, queue []models.RequestItem)
}

// Escalator opens live sessions.
type Escalator interface {
	Start(ctx context.Context, customer, text string)
}

// Reminders cancels the customer's pending follow-up.
type Reminders interface {
	CancelReminder(ctx context.Context, customer string)
}

// Alerts receives operator alerts raised by the manager.
type Alerts interface {
	NLUError(ctx context.Context, err error, op, customer string)
	Abandoned(ctx context.Context, customer string, item models.RequestItem)
}

// Stats counts new conversations.
type Stats interface {
	IncConversations()
}

// Deps holds the collaborators of a Manager. Reminders, Alerts and Stats
// may be nil.
type Deps struct {
	Store     session.Store
	Out       messaging.Messenger
	Render    *reply.Renderer
	NLU       NLU
	Sourcing  Sourcer
	Escalator Escalator
	Reminders Reminders
	Alerts    Alerts
	Stats     Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager handles customer turns. Callers serialize HandleMessage per
// customer.
type Manager struct {
	Deps
	now func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{Deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleMessage processes one customer message.
func (m *Manager) HandleMessage(ctx context.Context, customer, text string) {
	text = strings.TrimSpace(text)
	conv := m.load(ctx, customer)

	if intent.IsGoodbye(text) {
		m.goodbye(ctx, customer, conv)
		return
	}
	if intent.IsHumanRequest(text) {
		slog.Info("Manager.HandleMessage: human requested", "customer", customer)
		m.Escalator.Start(ctx, customer, text)
		return
	}

	if conv != nil {
		conv.LastSeen = m.now()
		if conv.Confirming {
			m.confirm(ctx, conv, text)
			return
		}
		if conv.State == models.StateWaiting {
			m.save(ctx, conv)
			m.say(ctx, customer, reply.StillWorking{})
			return
		}
	}

	items := m.extract(ctx, customer, text)
	switch {
	case len(items) > 0:
		if conv == nil {
			conv = models.NewConversation(customer, m.now())
			if m.Stats != nil {
				m.Stats.IncConversations()
			}
			slog.Info("Manager.HandleMessage: conversation started", "customer", customer)
		}
		for _, it := range items {
			it.Make = vehicle.Fill(it.Make, it.Model)
			conv.Queue = append(conv.Queue, it)
		}
		conv.Raw = joinRaw(conv.Raw, text)

	case conv != nil && len(conv.Queue) > 0:
		idx := conv.FirstIncomplete()
		if idx < 0 {
			// Complete but not yet confirmed; show the summary again.
			break
		}
		update, ok := m.extractMissing(ctx, customer, text, conv.Queue[idx])
		if !ok {
			m.save(ctx, conv)
			if intent.IsWait(text) {
				m.say(ctx, customer, reply.Wait{})
				return
			}
			m.askNext(ctx, conv, idx)
			return
		}
		merged := conv.Queue[idx].Merge(update)
		merged.Make = vehicle.Fill(merged.Make, merged.Model)
		conv.Queue[idx] = merged
		conv.Raw = joinRaw(conv.Raw, text)

	default:
		if conv != nil {
			m.save(ctx, conv)
		}
		m.classify(ctx, customer, text)
		return
	}

	m.advance(ctx, conv)
}

// advance stores conv and asks for the next missing field or the
// confirmation.
func (m *Manager) advance(ctx context.Context, conv *models.Conversation) {
	if conv.QueueComplete() {
		conv.Confirming = true
		m.save(ctx, conv)
		m.say(ctx, conv.Customer, reply.ConfirmSummary{Items: conv.Queue})
		return
	}
	m.save(ctx, conv)
	m.askNext(ctx, conv, conv.FirstIncomplete())
}

func (m *Manager) askNext(ctx context.Context, conv *models.Conversation, idx int) {
	item := conv.Queue[idx]
	missing := item.Missing()
	if len(missing) == 0 {
		return
	}
	ask := reply.AskField{Field: missing[0]}
	if len(conv.Queue) > 1 {
		ask.Part = item.Part
	}
	m.say(ctx, conv.Customer, ask)
}

// confirm runs the confirmation step: an affirmation starts sourcing,
// anything else is read as a correction.
func (m *Manager) confirm(ctx context.Context, conv *models.Conversation, text string) {
	if intent.IsAffirmative(text) {
		queue := conv.Queue
		conv.Confirming = false
		conv.State = models.StateWaiting
		conv.Queue = nil
		m.save(ctx, conv)
		slog.Info("Manager.confirm: queue confirmed", "customer", conv.Customer, "items", len(queue))
		m.Sourcing.Start(ctx, conv.Customer, conv.Raw, queue)
		return
	}

	rep := conv.Queue[0]
	update, ok, err := m.NLU.ExtractCorrection(ctx, text, rep)
	if err != nil {
		m.nluFailed(ctx, conv.Customer, err)
		ok = false
	}
	if !ok {
		m.save(ctx, conv)
		m.say(ctx, conv.Customer, reply.CorrectionReminder{})
		return
	}

	conv.Queue = applyCorrection(conv.Queue, update)
	conv.Raw = joinRaw(conv.Raw, text)
	m.save(ctx, conv)
	m.say(ctx, conv.Customer, reply.ConfirmSummary{Items: conv.Queue})
}

// applyCorrection changes the part of the first item only. Vehicle fields
// change on every item that had the first item's old value or none.
func applyCorrection(queue []models.RequestItem, update models.RequestItem) []models.RequestItem {
	out := append([]models.RequestItem(nil), queue...)
	rep := queue[0]
	if update.Part != "" {
		out[0].Part = update.Part
	}
	for _, f := range []models.Field{models.FieldMake, models.FieldModel, models.FieldYear} {
		v := update.Get(f)
		if v == "" {
			continue
		}
		for i := range out {
			if cur := queue[i].Get(f); cur == "" || strings.EqualFold(cur, rep.Get(f)) {
				out[i].Set(f, v)
			}
		}
	}
	if update.Model != "" && update.Make == "" {
		for i := range out {
			if mk := vehicle.MakeForModel(out[i].Model); mk != "" {
				out[i].Make = mk
			}
		}
	}
	return out
}

// classify answers a message that carries no part and has no queue to
// complete. It never creates a conversation.
func (m *Manager) classify(ctx context.Context, customer, text string) {
	switch {
	case intent.IsGreeting(text):
		m.say(ctx, customer, reply.Greeting{})
	case intent.IsSecondaryGreeting(text):
		m.say(ctx, customer, reply.SecondaryGreeting{})
	case intent.IsWait(text):
		m.say(ctx, customer, reply.Wait{})
	case intent.IsAck(text):
		m.say(ctx, customer, reply.Ack{})
	case intent.IsVague(text):
		m.say(ctx, customer, reply.VagueIntent{})
	default:
		needs, err := m.NLU.DetectNeedsHuman(ctx, text)
		if err != nil {
			m.nluFailed(ctx, customer, err)
		}
		if needs {
			slog.Info("Manager.classify: customer needs a person", "customer", customer)
			m.Escalator.Start(ctx, customer, text)
			return
		}
		m.say(ctx, customer, reply.Unknown{})
	}
}

func (m *Manager) goodbye(ctx context.Context, customer string, conv *models.Conversation) {
	midFlow := conv != nil && len(conv.Queue) > 0
	if conv != nil {
		m.remove(ctx, customer)
	}
	if m.Reminders != nil {
		m.Reminders.CancelReminder(ctx, customer)
	}
	m.say(ctx, customer, reply.Farewell{MidFlow: midFlow})
	slog.Debug("Manager.goodbye: conversation closed", "customer", customer, "mid_flow", midFlow)
}

func (m *Manager) extract(ctx context.Context, customer, text string) []models.RequestItem {
	items, err := m.NLU.Extract(ctx, text)
	if err != nil {
		m.nluFailed(ctx, customer, err)
		return nil
	}
	out := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Part) != "" {
			out = append(out, it)
		}
	}
	return out
}

func (m *Manager) extractMissing(ctx context.Context, customer, text string, known models.RequestItem) (models.RequestItem, bool) {
	update, ok, err := m.NLU.ExtractMissing(ctx, text, known)
	if err != nil {
		m.nluFailed(ctx, customer, err)
		return models.RequestItem{}, false
	}
	return update, ok
}

func (m *Manager) nluFailed(ctx context.Context, customer string, err error) {
	op := "nlu"
	var ce *apperrors.CollabError
	if errors.As(err, &ce) {
		op = ce.Op
	}
	slog.Warn("Manager: NLU call failed, treating as no fields", "customer", customer, "op", op, "error", err)
	if m.Alerts != nil {
		m.Alerts.NLUError(ctx, err, op, customer)
	}
}

func (m *Manager) say(ctx context.Context, customer string, s reply.Situation) {
	m.Out.Send(ctx, customer, m.Render.Render(s), nil)
}

// load returns the customer's conversation, or nil.
func (m *Manager) load(ctx context.Context, customer string) *models.Conversation {
	conv, err := m.Store.Get(ctx, customer)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("Manager.load: session read failed", "customer", customer, "error", err)
		}
		return nil
	}
	return conv
}

func (m *Manager) save(ctx context.Context, conv *models.Conversation) {
	if err := m.Store.Put(ctx, conv); err != nil {
		slog.Error("Manager.save: session write failed", "customer", conv.Customer, "error", err)
	}
}

func (m *Manager) remove(ctx context.Context, customer string) {
	if err := m.Store.Delete(ctx, customer); err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Error("Manager.remove: session delete failed", "customer", customer, "error", err)
	}
}

// Release ends a WAITING conversation whose sourcing produced nothing to
// quote, so the customer's next message starts fresh.
func (m *Manager) Release(ctx context.Context, customer string) {
	conv := m.load(ctx, customer)
	if conv == nil || conv.State != models.StateWaiting {
		return
	}
	m.remove(ctx, customer)
	slog.Debug("Manager.Release: conversation released", "customer", customer)
}

// Close ends the conversation after a confirmed order.
func (m *Manager) Close(ctx context.Context, customer string) {
	m.remove(ctx, customer)
	slog.Debug("Manager.Close: conversation completed", "customer", customer)
}

// Drop discards the conversation of a customer going live.
func (m *Manager) Drop(ctx context.Context, customer string) {
	m.remove(ctx, customer)
	if m.Reminders != nil {
		m.Reminders.CancelReminder(ctx, customer)
	}
}

// Expired is the sweeper hook. A conversation lost at confirmation is
// reported as abandoned.
func (m *Manager) Expired(ctx context.Context, conv *models.Conversation) {
	if !conv.Confirming || m.Alerts == nil || len(conv.Queue) == 0 {
		return
	}
	m.Alerts.Abandoned(ctx, conv.Customer, conv.Queue[0])
}

// Count returns the number of stored conversations.
func (m *Manager) Count(ctx context.Context) int {
	convs, err := m.Store.List(ctx)
	if err != nil {
		slog.Error("Manager.Count: session list failed", "error", err)
		return 0
	}
	return len(convs)
}

func joinRaw(raw, text string) string {
	if raw == "" {
		return text
	}
	return raw + " | " + text
}
