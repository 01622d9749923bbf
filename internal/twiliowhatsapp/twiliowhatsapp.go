// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging: outbound
// sends and inbound webhook parsing with signature validation.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/util"
)

// SignatureHeader carries Twilio's HMAC signature of a webhook request.
const SignatureHeader = "X-Twilio-Signature"

// Sender delivers a WhatsApp message and returns the provider message SID.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token used for REST calls and webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number; a missing "whatsapp:" prefix is added.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string // "whatsapp:+50760000000"
}

// NewClient creates a Client. SID, token and sending number are required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: whatsappAddress(cfg.FromWhats)}, nil
}

// SendMessage sends a WhatsApp text and returns the message SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: twilio create failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Client.SendMessage: message sent", "to", to, "sid", sid)
	return sid, nil
}

// whatsappAddress renders a number as a Twilio WhatsApp address.
func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

// Validator checks the X-Twilio-Signature of webhook requests.
type Validator struct {
	rv twilioClient.RequestValidator
}

// NewValidator creates a Validator for the account's auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{rv: twilioClient.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the public webhook URL and form.
func (v *Validator) Valid(webhookURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.rv.Validate(webhookURL, params, signature)
}

// ParseWebhook converts a Twilio inbound-message form into an Inbound.
// Messages without a sender, or with neither text nor media, are rejected.
func ParseWebhook(form url.Values, now time.Time) (models.Inbound, error) {
	from, err := util.CanonicalPhone(form.Get("From"))
	if err != nil {
		return models.Inbound{}, fmt.Errorf("webhook sender: %w", err)
	}
	in := models.Inbound{
		From:      from,
		Text:      strings.TrimSpace(form.Get("Body")),
		MediaURL:  form.Get("MediaUrl0"),
		ReplyToID: form.Get("OriginalRepliedMessageSid"),
		MessageID: form.Get("MessageSid"),
		Time:      now,
	}
	if in.Text == "" && in.MediaURL == "" {
		return models.Inbound{}, fmt.Errorf("webhook from %s has no body or media", from)
	}
	return in, nil
}

// MockClient records sent messages and hands out sequential SIDs.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	SID  string
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendMessage implements Sender.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sid := fmt.Sprintf("SM%032d", len(m.SentMessages)+1)
	m.SentMessages = append(m.SentMessages, SentMessage{SID: sid, To: to, Body: body})
	return sid, nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
