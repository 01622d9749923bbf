package genai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	mu      sync.Mutex
	replies []string
	err     error
	empty   bool
	prompts []string
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, "call")
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	if m.empty {
		return openai.ChatCompletion{}, nil
	}
	reply := ""
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: reply}},
		},
	}, nil
}

func mockClient(replies ...string) (*Client, *mockChatService) {
	m := &mockChatService{replies: replies}
	return newClient(m, Opts{}), m
}

func TestComplete_Success(t *testing.T) {
	client, _ := mockClient("Hola")
	out, err := client.Complete(context.Background(), "test", "sys", "usr", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hola" {
		t.Errorf("expected 'Hola', got %q", out)
	}
}

func TestComplete_ServiceError(t *testing.T) {
	m := &mockChatService{err: errors.New("service failure")}
	client := newClient(m, Opts{})
	_, err := client.Complete(context.Background(), "test", "sys", "usr", 0)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected service failure error, got %v", err)
	}
	if apperrors.KindOf(err) != apperrors.KindTransport {
		t.Errorf("expected transport kind, got %v", apperrors.KindOf(err))
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := newClient(&mockChatService{empty: true}, Opts{})
	_, err := client.Complete(context.Background(), "test", "sys", "usr", 0)
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Fatalf("expected ErrNoChoicesReturned, got %v", err)
	}
	if apperrors.KindOf(err) != apperrors.KindMalformed {
		t.Errorf("expected malformed kind, got %v", apperrors.KindOf(err))
	}
}

func TestComplete_DeadlineIsTimeout(t *testing.T) {
	client := newClient(&mockChatService{err: context.DeadlineExceeded}, Opts{})
	_, err := client.Complete(context.Background(), "test", "sys", "usr", 0)
	if !apperrors.IsTimeout(err) {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestClassify_APIStatus(t *testing.T) {
	tests := []struct {
		status int
		want   apperrors.Kind
	}{
		{429, apperrors.KindTransport},
		{503, apperrors.KindTransport},
		{401, apperrors.KindUnavailable},
	}
	for _, tt := range tests {
		err := classify("op", &openai.Error{StatusCode: tt.status})
		if got := apperrors.KindOf(err); got != tt.want {
			t.Errorf("status %d: kind = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNewClient_NoKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTemperature(0))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" {
		t.Errorf("model = %q", cli.model)
	}
}

func TestStripFences(t *testing.T) {
	in := "```json\n{\"part\": \"alternador\"}\n```"
	if got := stripFences(in); got != `{"part": "alternador"}` {
		t.Errorf("stripFences() = %q", got)
	}
	if got := stripFences("  null "); got != "null" {
		t.Errorf("stripFences() = %q", got)
	}
}

func TestExtract_MultipleItems(t *testing.T) {
	client, _ := mockClient("```json\n" + `[
		{"part": "alternador", "make": null, "model": "Hilux", "year": 2008},
		{"part": "filtro de aceite", "make": null, "model": "Hilux", "year": "08"},
		{"part": null, "make": null, "model": null, "year": null}
	]` + "\n```")

	items, err := client.Extract(context.Background(), "alternador y filtro para hilux 2008")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	want := models.RequestItem{Part: "alternador", Model: "Hilux", Year: "2008"}
	if items[0] != want {
		t.Errorf("items[0] = %+v, want %+v", items[0], want)
	}
	if items[1].Year != "2008" {
		t.Errorf("two-digit year not expanded: %q", items[1].Year)
	}
}

func TestExtract_SingleObjectAndNull(t *testing.T) {
	client, _ := mockClient(`{"part": "bujías", "make": "null"}`, "null")

	items, err := client.Extract(context.Background(), "bujías")
	if err != nil || len(items) != 1 || items[0].Part != "bujías" || items[0].Make != "" {
		t.Fatalf("Extract() = %+v, %v", items, err)
	}

	items, err = client.Extract(context.Background(), "hola")
	if err != nil || len(items) != 0 {
		t.Fatalf("Extract(null) = %+v, %v", items, err)
	}
}

func TestExtract_Malformed(t *testing.T) {
	client, _ := mockClient("no es json")
	_, err := client.Extract(context.Background(), "x")
	if apperrors.KindOf(err) != apperrors.KindMalformed {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestExtractMissing_OnlyMissingFields(t *testing.T) {
	client, _ := mockClient(`{"part": "otra cosa", "model": "Corolla", "year": "2015"}`)
	known := models.RequestItem{Part: "filtro", Make: "Toyota"}

	got, ok, err := client.ExtractMissing(context.Background(), "corolla 2015", known)
	if err != nil || !ok {
		t.Fatalf("ExtractMissing() ok=%v err=%v", ok, err)
	}
	want := models.RequestItem{Model: "Corolla", Year: "2015"}
	if got != want {
		t.Errorf("ExtractMissing() = %+v, want %+v", got, want)
	}
}

func TestExtractMissing_CompleteItemSkipsCall(t *testing.T) {
	client, m := mockClient()
	full := models.RequestItem{Part: "a", Make: "b", Model: "c", Year: "d"}
	_, ok, err := client.ExtractMissing(context.Background(), "x", full)
	if ok || err != nil || len(m.prompts) != 0 {
		t.Errorf("expected no call, ok=%v err=%v calls=%d", ok, err, len(m.prompts))
	}
}

func TestExtractCorrection(t *testing.T) {
	client, _ := mockClient(`{"year": 2010, "make": "Toyota"}`, "null")
	current := models.RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}

	got, ok, err := client.ExtractCorrection(context.Background(), "es 2010", current)
	if err != nil || !ok {
		t.Fatalf("ExtractCorrection() ok=%v err=%v", ok, err)
	}
	if got != (models.RequestItem{Year: "2010"}) {
		t.Errorf("unchanged fields must be dropped: %+v", got)
	}

	_, ok, err = client.ExtractCorrection(context.Background(), "mmm", current)
	if ok || err != nil {
		t.Errorf("null reply: ok=%v err=%v", ok, err)
	}
}

func TestDetectNeedsHuman(t *testing.T) {
	client, _ := mockClient("true", "False.", "quizás")
	ctx := context.Background()

	if got, err := client.DetectNeedsHuman(ctx, "nadie me ayuda"); err != nil || !got {
		t.Errorf("DetectNeedsHuman() = %v, %v", got, err)
	}
	if got, err := client.DetectNeedsHuman(ctx, "ok"); err != nil || got {
		t.Errorf("DetectNeedsHuman() = %v, %v", got, err)
	}
	if _, err := client.DetectNeedsHuman(ctx, "?"); apperrors.KindOf(err) != apperrors.KindMalformed {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestInterpretChoice(t *testing.T) {
	opts := []models.Option{{Label: "A"}, {Label: "B"}}
	client, _ := mockClient("2", "null", "7")
	ctx := context.Background()

	idx, ok, err := client.InterpretChoice(ctx, "la segunda", opts, []float64{10, 20})
	if err != nil || !ok || idx != 1 {
		t.Errorf("InterpretChoice() = %d, %v, %v", idx, ok, err)
	}
	if _, ok, _ := client.InterpretChoice(ctx, "no sé", opts, nil); ok {
		t.Error("null reply must not resolve")
	}
	if _, ok, _ := client.InterpretChoice(ctx, "la séptima", opts, nil); ok {
		t.Error("out-of-range reply must not resolve")
	}
}

func TestEstimatePrice(t *testing.T) {
	client, _ := mockClient(
		`{"found": true, "part_name": "Alternator", "brand": "Denso", "price_usd": "$95.50", "part_number": null}`,
		`{"found": false}`,
		`{"found": true, "price_usd": 0}`,
	)
	item := models.RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}
	ctx := context.Background()

	est, err := client.EstimatePrice(ctx, item)
	if err != nil || !est.Found || est.PriceUSD == nil || *est.PriceUSD != 95.5 {
		t.Fatalf("EstimatePrice() = %+v, %v", est, err)
	}
	if est.Brand != "Denso" || est.PartNumber != "" {
		t.Errorf("unexpected fields: %+v", est)
	}

	if est, err = client.EstimatePrice(ctx, item); err != nil || est.Found {
		t.Errorf("not found: %+v, %v", est, err)
	}
	if est, err = client.EstimatePrice(ctx, item); err != nil || est.Found {
		t.Errorf("zero price must count as not found: %+v, %v", est, err)
	}
}

func TestParseSupplierReply(t *testing.T) {
	client, _ := mockClient(`{"available": true, "price": 80, "lead_time": "mañana", "notes": null}`)
	item := models.RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}

	got, err := client.ParseSupplierReply(context.Background(), "sí tengo, 80 dólares, mañana", item)
	if err != nil {
		t.Fatalf("ParseSupplierReply() error = %v", err)
	}
	if !got.Available || got.Price == nil || *got.Price != 80 || got.LeadTime != "mañana" || got.Notes != "" {
		t.Errorf("ParseSupplierReply() = %+v", got)
	}
}
