package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/reply"
)

const (
	owner = "50760000000"
	alice = "50761111111"
	bob   = "50762222222"
)

var hilux = models.RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}

type fakeTimers struct {
	mu                  sync.Mutex
	longWaits           []string
	cancelledLongWaits  []string
	cancelledReminders  []string
	scheduleLongWaitErr error
}

func (f *fakeTimers) ScheduleLongWait(ctx context.Context, ap models.PendingApproval, since time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.longWaits = append(f.longWaits, ap.ID)
	return f.scheduleLongWaitErr
}

func (f *fakeTimers) CancelLongWait(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledLongWaits = append(f.cancelledLongWaits, id)
}

func (f *fakeTimers) CancelReminder(ctx context.Context, customer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledReminders = append(f.cancelledReminders, customer)
}

type fakeStats struct{ quotes, orders int }

func (f *fakeStats) QuoteSent(time.Time) { f.quotes++ }
func (f *fakeStats) OrderConfirmed()     { f.orders++ }

type fakeNLU struct {
	idx   int
	ok    bool
	err   error
	calls int
}

func (f *fakeNLU) InterpretChoice(ctx context.Context, msg string, opts []models.Option, prices []float64) (int, bool, error) {
	f.calls++
	return f.idx, f.ok, f.err
}

type fakeConversations struct{ released, closed []string }

func (f *fakeConversations) Release(ctx context.Context, c string) { f.released = append(f.released, c) }
func (f *fakeConversations) Close(ctx context.Context, c string)   { f.closed = append(f.closed, c) }

type fakeAudit struct {
	entries []models.AuditEntry
	err     error
}

func (f *fakeAudit) Append(ctx context.Context, e models.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeAlerts struct{ auditFailed []string }

func (f *fakeAlerts) AuditFailed(ctx context.Context, err error, summary string) {
	f.auditFailed = append(f.auditFailed, summary)
}

func (f *fakeAudit) last() models.AuditEntry { return f.entries[len(f.entries)-1] }

type harness struct {
	desk   *Desk
	rec    *messaging.Recorder
	timers *fakeTimers
	stats  *fakeStats
	nlu    *fakeNLU
	convs  *fakeConversations
	audit  *fakeAudit
	alerts *fakeAlerts
}

func newHarness() *harness {
	h := &harness{
		rec:    messaging.NewRecorder(),
		timers: &fakeTimers{},
		stats:  &fakeStats{},
		nlu:    &fakeNLU{},
		convs:  &fakeConversations{},
		audit:  &fakeAudit{},
		alerts: &fakeAlerts{},
	}
	h.desk = NewDesk(Deps{
		Out:           h.rec,
		Owner:         owner,
		Render:        reply.NewRenderer(""),
		Audit:         h.audit,
		Timers:        h.timers,
		Stats:         h.stats,
		NLU:           h.nlu,
		Conversations: h.convs,
		Alerts:        h.alerts,
	}, func() time.Time { return time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC) })
	return h
}

func options(n int) []models.Option {
	all := []models.Option{
		{Label: "💰 Más económica", SupplierName: "USA", Cost: 100, SuggestedPrice: 135, Margin: 35, LeadTime: "5-7 días"},
		{Label: "⚡ Más rápida", SupplierName: "Local", Cost: 120, SuggestedPrice: 162, Margin: 42, LeadTime: "1 día"},
		{Label: "🔄 Alternativa", SupplierName: "Otro", Cost: 130, SuggestedPrice: 175.5, Margin: 45.5, LeadTime: "3 días"},
	}
	return all[:n]
}

func (h *harness) submit(t *testing.T, id, customer string, n int) {
	t.Helper()
	err := h.desk.Submit(context.Background(), models.PendingApproval{ID: id, Customer: customer, Item: hilux, Options: options(n)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitDispatchesToOwner(t *testing.T) {
	h := newHarness()
	h.submit(t, "ap1", alice, 2)

	msg := h.rec.Last(owner)
	for _, want := range []string{"Nueva solicitud", "+50761111111", "alternador — Toyota Hilux 2008", "*Opción 2* ⚡ Más rápida", "Ejemplo: *135,162*"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("approval text missing %q:\n%s", want, msg.Body)
		}
	}
	if len(h.timers.longWaits) != 1 || h.audit.last().Status != models.AuditPendingApproval {
		t.Error("submit must schedule long wait and audit")
	}
	if !h.desk.IsPending("ap1") {
		t.Error("approval should be pending")
	}
	if err := h.desk.Submit(context.Background(), models.PendingApproval{Customer: alice}); err == nil {
		t.Error("approval without options must be rejected")
	}
}

func TestParsePrices(t *testing.T) {
	got, ok := ParsePrices("195, $222 ,175.5")
	if !ok || len(got) != 3 || got[0] != 195 || got[1] != 222 || got[2] != 175.5 {
		t.Errorf("ParsePrices = %v, %v", got, ok)
	}
	for _, bad := range []string{"", "hola", "195,", "-5", "12,abc"} {
		if _, ok := ParsePrices(bad); ok {
			t.Errorf("ParsePrices(%q) should fail", bad)
		}
	}
}

func TestOwnerReplyByPriceCount(t *testing.T) {
	h := newHarness()
	h.submit(t, "ap1", alice, 3)
	h.submit(t, "ap2", bob, 2)

	resp := h.desk.HandleOwnerReply(context.Background(), "150, 170", "")
	if !strings.Contains(resp, "Cotización enviada") || !strings.Contains(resp, "$150 / $170") {
		t.Errorf("owner response = %q", resp)
	}
	quote := h.rec.Last(bob).Body
	if !strings.Contains(quote, "$150") || !strings.Contains(quote, "(1 o 2)") {
		t.Errorf("quote = %s", quote)
	}
	if !h.desk.HasSelection(bob) || h.desk.HasSelection(alice) {
		t.Error("selection must belong to bob")
	}
	if h.stats.quotes != 1 || h.audit.last().Status != models.AuditQuoted {
		t.Error("quote must be counted and audited")
	}
	if h.timers.cancelledLongWaits[0] != "ap2" || h.timers.cancelledReminders[0] != bob {
		t.Errorf("timers = %+v", h.timers)
	}
	if a, s := h.desk.Counts(); a != 1 || s != 1 {
		t.Errorf("counts = %d, %d", a, s)
	}
}

func TestOwnerReplyByReplyTo(t *testing.T) {
	h := newHarness()
	h.submit(t, "ap1", alice, 2)
	h.submit(t, "ap2", bob, 2)
	bobApprovalMsg := h.rec.Last(owner).ID

	h.desk.HandleOwnerReply(context.Background(), "10,20", bobApprovalMsg)
	if !h.desk.HasSelection(bob) || h.desk.HasSelection(alice) {
		t.Error("reply-to must win over count matching (oldest first)")
	}
}

func TestOwnerReplyOldestFirstThenOnlyPending(t *testing.T) {
	h := newHarness()
	h.submit(t, "ap1", alice, 2)
	h.submit(t, "ap2", bob, 2)
	h.desk.HandleOwnerReply(context.Background(), "10,20", "")
	if !h.desk.HasSelection(alice) {
		t.Fatal("oldest matching approval must be taken first")
	}

	// One price for a two-option approval: only pending one, quoted with one option.
	h.desk.HandleOwnerReply(context.Background(), "99", "")
	if !h.desk.HasSelection(bob) {
		t.Fatal("only pending approval must match")
	}
	if !strings.Contains(h.rec.Last(bob).Body, "Responde con *1* para confirmar.") {
		t.Errorf("quote = %s", h.rec.Last(bob).Body)
	}
}

func TestOwnerReplyAmbiguous(t *testing.T) {
	h := newHarness()
	h.submit(t, "ap1", alice, 3)
	h.submit(t, "ap2", bob, 3)
	resp := h.desk.HandleOwnerReply(context.Background(), "10", "")
	if !strings.Contains(resp, "Órdenes pendientes: 2") {
		t.Errorf("resp = %q", resp)
	}
	if a, _ := h.desk.Counts(); a != 2 {
		t.Error("ambiguous reply must not mutate")
	}
}

func TestOwnerReplyBadPricesAndNothingPending(t *testing.T) {
	h := newHarness()
	if resp := h.desk.HandleOwnerReply(context.Background(), "10", ""); resp != NoPendingText {
		t.Errorf("resp = %q", resp)
	}
	h.submit(t, "ap1", alice, 1)
	if resp := h.desk.HandleOwnerReply(context.Background(), "ciento veinte", ""); resp != BadPricesText {
		t.Errorf("resp = %q", resp)
	}
	if !h.desk.IsPending("ap1") {
		t.Error("bad prices must not mutate")
	}
}

func TestCancelLatest(t *testing.T) {
	h := newHarness()
	if resp := h.desk.HandleOwnerReply(context.Background(), "Cancelar", ""); resp != NoPendingText {
		t.Errorf("resp = %q", resp)
	}
	h.submit(t, "ap1", alice, 1)
	h.submit(t, "ap2", bob, 1)

	if resp := h.desk.HandleOwnerReply(context.Background(), " cancelar ", ""); resp != CancelledText {
		t.Errorf("resp = %q", resp)
	}
	if h.desk.IsPending("ap2") || !h.desk.IsPending("ap1") {
		t.Error("most recent approval must be cancelled")
	}
	if !strings.Contains(h.rec.Last(bob).Body, "no pudimos conseguir") {
		t.Errorf("customer notice = %q", h.rec.Last(bob).Body)
	}
	if len(h.convs.released) != 1 || h.convs.released[0] != bob {
		t.Errorf("released = %v", h.convs.released)
	}
}

func quoteFor(t *testing.T, h *harness, customer string, n int, prices string) {
	t.Helper()
	h.submit(t, "ap-"+customer+prices, customer, n)
	h.desk.HandleOwnerReply(context.Background(), prices, h.rec.Last(owner).ID)
	if !h.desk.HasSelection(customer) {
		t.Fatal("quote not registered")
	}
}

func TestSelectionNumeric(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 3, "140,170,180")

	if !h.desk.HandleSelection(context.Background(), alice, " 2 ") {
		t.Fatal("selection not handled")
	}
	if !strings.Contains(h.rec.Last(alice).Body, "Confirmado") || !strings.Contains(h.rec.Last(alice).Body, "$170") {
		t.Errorf("confirmation = %s", h.rec.Last(alice).Body)
	}
	ownerMsg := h.rec.Last(owner).Body
	if !strings.Contains(ownerMsg, "Cliente confirmó opción 2") || !strings.Contains(ownerMsg, "Proveedor: Local") {
		t.Errorf("owner notice = %s", ownerMsg)
	}
	entry := h.audit.last()
	if entry.Status != models.AuditConfirmed || entry.Chosen != 2 {
		t.Errorf("audit = %+v", entry)
	}
	if h.stats.orders != 1 || len(h.convs.closed) != 1 || h.desk.HasSelection(alice) {
		t.Error("order must be counted and conversation closed")
	}
	if h.nlu.calls != 0 {
		t.Error("numeric answer must not call the model")
	}
}

func TestAuditFailuresAlertOwner(t *testing.T) {
	h := newHarness()
	h.audit.err = errors.New("sheet unreachable")
	quoteFor(t, h, alice, 2, "140,170")
	if !h.desk.HandleSelection(context.Background(), alice, "1") {
		t.Fatal("selection not handled")
	}
	if len(h.alerts.auditFailed) != 3 {
		t.Fatalf("audit alerts = %v", h.alerts.auditFailed)
	}
	if h.alerts.auditFailed[0] != hilux.String() {
		t.Errorf("summary = %q", h.alerts.auditFailed[0])
	}
	if h.stats.orders != 1 || len(h.convs.closed) != 1 {
		t.Error("audit failure must not stop the order")
	}
}

func TestSelectionOutOfRangePrompts(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 2, "140,170")
	h.desk.HandleSelection(context.Background(), alice, "3")
	if got := h.rec.Last(alice).Body; got != "Por favor responde con 1 o 2." {
		t.Errorf("prompt = %q", got)
	}
	if !h.desk.HasSelection(alice) {
		t.Error("unresolved answer must keep the selection")
	}
}

func TestSelectionSingleOptionAffirmation(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 1, "140")
	h.desk.HandleSelection(context.Background(), alice, "sí")
	if h.desk.HasSelection(alice) || h.nlu.calls != 0 {
		t.Error("single option affirmation must confirm without the model")
	}
}

func TestSelectionViaModel(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 3, "140,170,180")
	h.nlu.idx, h.nlu.ok = 2, true
	h.desk.HandleSelection(context.Background(), alice, "la más cara porfa")
	if h.audit.last().Chosen != 3 {
		t.Errorf("chosen = %d", h.audit.last().Chosen)
	}
}

func TestSelectionModelFailurePrompts(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 3, "140,170,180")
	h.nlu.err = errors.New("timeout")
	h.desk.HandleSelection(context.Background(), alice, "mmm no sé")
	if got := h.rec.Last(alice).Body; got != "Por favor responde con 1, 2 o 3." {
		t.Errorf("prompt = %q", got)
	}
}

func TestSelectionFIFOPerCustomer(t *testing.T) {
	h := newHarness()
	quoteFor(t, h, alice, 1, "50")
	quoteFor(t, h, alice, 2, "60,70")

	h.desk.HandleSelection(context.Background(), alice, "1")
	if !strings.Contains(h.rec.Last(alice).Body, "$50") {
		t.Errorf("first quote must be resolved first: %s", h.rec.Last(alice).Body)
	}
	if !h.desk.HasSelection(alice) || len(h.convs.closed) != 0 {
		t.Error("second quote still pending; conversation must stay open")
	}
	h.desk.HandleSelection(context.Background(), alice, "2")
	if len(h.convs.closed) != 1 {
		t.Error("conversation closes after the last selection")
	}
}

func TestHandleSelectionWithoutQuote(t *testing.T) {
	h := newHarness()
	if h.desk.HandleSelection(context.Background(), alice, "1") {
		t.Error("no quote, nothing to handle")
	}
}
