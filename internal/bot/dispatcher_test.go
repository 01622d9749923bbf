package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zeli-parts/partsbot/internal/escalation"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/monitor"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/suppliers"
)

const (
	owner    = "50760000000"
	customer = "50761111111"
	supplier = "50763333333"
	shop     = "50762222222"
)

type fakeConversations struct {
	mu    sync.Mutex
	texts []string
	panic bool
}

func (f *fakeConversations) HandleMessage(ctx context.Context, customer, text string) {
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func (f *fakeConversations) Count(ctx context.Context) int { return len(f.texts) }

type fakeQuotes struct {
	ownerTexts []string
	selecting  map[string]bool
	selections []string
}

func (f *fakeQuotes) HandleOwnerReply(ctx context.Context, text, replyTo string) string {
	f.ownerTexts = append(f.ownerTexts, text)
	return "quotes:" + text
}

func (f *fakeQuotes) HasSelection(c string) bool { return f.selecting[c] }

func (f *fakeQuotes) HandleSelection(ctx context.Context, c, text string) bool {
	f.selections = append(f.selections, text)
	return true
}

func (f *fakeQuotes) Counts() (int, int) { return 2, len(f.selecting) }

type fakeRelay struct {
	offer *suppliers.LateOffer
	err   error
}

func (f *fakeRelay) IsSupplier(n string) bool { return n == supplier }

func (f *fakeRelay) OnSupplierReply(ctx context.Context, from, text string) (*suppliers.LateOffer, error) {
	return f.offer, f.err
}

type fakeDedup struct {
	seen      map[string]bool
	processed []string
}

func (f *fakeDedup) RecordInbound(id, sender string) (bool, error) {
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeDedup) MarkProcessed(id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeDedup) PruneInbound(cutoff time.Time) (int, error) { return 0, nil }

type harness struct {
	d     *Dispatcher
	rec   *messaging.Recorder
	convs *fakeConversations
	quote *fakeQuotes
	live  *escalation.Desk
	relay *fakeRelay
	dedup *fakeDedup
	mon   *monitor.Monitor
}

func newHarness() *harness {
	rec := messaging.NewRecorder()
	render := reply.NewRenderer("")
	h := &harness{
		rec:   rec,
		convs: &fakeConversations{},
		quote: &fakeQuotes{selecting: map[string]bool{}},
		live:  escalation.NewDesk(rec, owner, render),
		relay: &fakeRelay{},
		dedup: &fakeDedup{seen: map[string]bool{}},
		mon:   monitor.New(rec, owner),
	}
	active := true
	registry := suppliers.NewRegistry(suppliers.Directory{
		Stores: []suppliers.Store{{Number: shop, Name: "AutoCentro", Tier: 1, Active: &active}},
	})
	h.d = New(Deps{
		Owner:         owner,
		Out:           rec,
		Render:        render,
		Conversations: h.convs,
		Quotes:        h.quote,
		Live:          h.live,
		Relay:         h.relay,
		Directory:     registry,
		Monitor:       h.mon,
		Dedup:         h.dedup,
	})
	return h
}

func (h *harness) handle(in models.Inbound) {
	h.d.Handle(context.Background(), in)
}

func TestCustomerGoesToConversation(t *testing.T) {
	h := newHarness()
	h.handle(models.Inbound{From: customer, Text: "alternador hilux 2008", MessageID: "SM1"})
	if len(h.convs.texts) != 1 {
		t.Fatalf("conversation got %v", h.convs.texts)
	}
	if len(h.dedup.processed) != 1 {
		t.Error("message must be marked processed")
	}
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	h := newHarness()
	in := models.Inbound{From: customer, Text: "hola", MessageID: "SM1"}
	h.handle(in)
	h.handle(in)
	if len(h.convs.texts) != 1 {
		t.Errorf("duplicate processed: %v", h.convs.texts)
	}
}

func TestSelectionTakesPriority(t *testing.T) {
	h := newHarness()
	h.quote.selecting[customer] = true
	h.handle(models.Inbound{From: customer, Text: "1"})
	if len(h.quote.selections) != 1 || len(h.convs.texts) != 0 {
		t.Error("pending selection must receive the reply")
	}
	h.handle(models.Inbound{From: customer, Text: "quiero hablar con alguien"})
	if !h.live.IsLive(customer) {
		t.Error("human request must escalate even during selection")
	}
}

func TestLiveCustomerRelayed(t *testing.T) {
	h := newHarness()
	h.live.Start(context.Background(), customer, "ayuda")
	h.handle(models.Inbound{From: customer, Text: "sigo aquí"})
	if got := h.rec.Last(owner).Body; got != "💬 *+50761111111:*\nsigo aquí" {
		t.Errorf("owner got %q", got)
	}
	if len(h.convs.texts) != 0 {
		t.Error("live customers bypass the bot")
	}
}

func TestImageAcknowledgedAndForwarded(t *testing.T) {
	h := newHarness()
	h.handle(models.Inbound{From: customer, MediaURL: "https://media.example/a.jpg"})
	if !h.rec.Contains(customer, "Recibimos tu imagen") {
		t.Error("customer must get an acknowledgment")
	}
	if !h.rec.Contains(owner, "Imagen de +50761111111") {
		t.Error("owner must get the image")
	}
}

func TestOwnerCommands(t *testing.T) {
	h := newHarness()

	h.handle(models.Inbound{From: owner, Text: "Estado"})
	if body := h.rec.Last(owner).Body; !strings.Contains(body, "Estado del bot") || !strings.Contains(body, "Aprobaciones pendientes: 2") {
		t.Errorf("estado = %q", body)
	}
	h.handle(models.Inbound{From: owner, Text: "tiendas"})
	if body := h.rec.Last(owner).Body; !strings.Contains(body, "AutoCentro") {
		t.Errorf("tiendas = %q", body)
	}
	h.handle(models.Inbound{From: owner, Text: "tomar +507 6111-1111"})
	if !h.live.IsLive(customer) {
		t.Error("tomar must start a session")
	}
	h.handle(models.Inbound{From: owner, Text: "fin 50761111111"})
	if h.live.IsLive(customer) {
		t.Error("fin must end the session")
	}
	h.handle(models.Inbound{From: owner, Text: "120, 140"})
	if len(h.quote.ownerTexts) != 1 || h.rec.Last(owner).Body != "quotes:120, 140" {
		t.Errorf("prices not routed: %v", h.quote.ownerTexts)
	}
}

func TestOwnerReplyToLiveWinsOverPrices(t *testing.T) {
	h := newHarness()
	h.live.Start(context.Background(), customer, "ayuda")
	sessionMsg := h.rec.Last(owner).ID
	h.handle(models.Inbound{From: owner, Text: "120", ReplyToID: sessionMsg})
	if len(h.quote.ownerTexts) != 0 {
		t.Error("reply to a live session must not reach the quote desk")
	}
	if h.rec.Last(owner).Body != escalation.DeliveredText {
		t.Errorf("owner got %q", h.rec.Last(owner).Body)
	}
}

func TestSupplierAndStoreRouting(t *testing.T) {
	h := newHarness()
	h.relay.offer = &suppliers.LateOffer{
		Query:  suppliers.PendingRelayQuery{Token: "ab12cd", Customer: customer, Item: models.RequestItem{Part: "alternador"}},
		Result: models.SupplierResult{SupplierName: "Repuestos Chiriquí", Cost: models.Price(80), LeadTime: "1 día"},
	}
	h.handle(models.Inbound{From: supplier, Text: "#ab12cd sí, $80"})
	if !h.rec.Contains(owner, "Oferta de proveedor #ab12cd") {
		t.Error("late offer must reach the owner")
	}

	h.relay.offer, h.relay.err = nil, errors.New("bad json")
	h.handle(models.Inbound{From: supplier, Text: "???"})
	if h.mon.Stats().Errors != 1 {
		t.Error("unparsed supplier reply counts as an error")
	}

	h.handle(models.Inbound{From: shop, Text: "Tenemos el alternador"})
	if got := h.rec.Last(owner).Body; got != "🏪 *AutoCentro:*\nTenemos el alternador" {
		t.Errorf("store relay = %q", got)
	}
	if len(h.convs.texts) != 0 {
		t.Error("suppliers and stores never reach the conversation flow")
	}
}

func TestPanicRecovered(t *testing.T) {
	h := newHarness()
	h.convs.panic = true
	h.handle(models.Inbound{From: customer, Text: "hola"})
	if !h.rec.Contains(owner, "Error interno") {
		t.Error("owner must be alerted")
	}
	// The sender lock must be released.
	h.convs.panic = false
	h.handle(models.Inbound{From: customer, Text: "hola"})
	if len(h.convs.texts) != 1 {
		t.Error("second message must be handled")
	}
}

func TestRunDrainsChannel(t *testing.T) {
	h := newHarness()
	in := make(chan models.Inbound, 3)
	in <- models.Inbound{From: customer, Text: "uno"}
	in <- models.Inbound{From: "50764444444", Text: "dos"}
	close(in)
	h.d.Run(context.Background(), in)
	if len(h.convs.texts) != 2 {
		t.Errorf("handled %v", h.convs.texts)
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness()
	h.quote.selecting[customer] = true
	st := h.d.Status(context.Background())
	if st.PendingApprovals != 2 || st.PendingSelections != 1 || st.LiveSessions != 0 {
		t.Errorf("status = %+v", st)
	}
}
