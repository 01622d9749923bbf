// Package genai wraps the OpenAI chat API for the bot's language tasks:
// request extraction, choice interpretation, supplier-reply parsing and
// price estimation.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
)

// ErrNoChoicesReturned is returned when the API answers without choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultTimeout     = 20 * time.Second
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the SDK's completion service to chatService.
type openaiChat struct {
	client openai.Client
}

func (o openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client issues chat completions behind a circuit breaker. Every failure is
// an apperrors.CollabError.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	timeout     time.Duration
	breaker     *apperrors.CircuitBreaker
}

// NewClient creates a Client. The API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1))
	return newClient(openaiChat{client: cli}, cfg), nil
}

func newClient(chat chatService, cfg Opts) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		chat:        chat,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		breaker:     apperrors.NewCircuitBreaker(),
	}
}

// Complete sends one system+user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, op, system, user string, maxTokens int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(c.temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(maxTokens)
	}

	var resp openai.ChatCompletion
	start := time.Now()
	err := c.breaker.Call(op, func() error {
		var callErr error
		resp, callErr = c.chat.Create(ctx, params)
		return callErr
	})
	if err != nil {
		slog.Warn("Client.Complete: completion failed", "op", op, "elapsed", time.Since(start), "error", err)
		return "", classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Collab(op, apperrors.KindMalformed, ErrNoChoicesReturned)
	}
	slog.Debug("Client.Complete: completion received", "op", op, "elapsed", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

// classify maps SDK errors onto collaborator kinds: 429 and 5xx are
// transport errors worth retrying, other API rejections mean the service
// is unavailable to us.
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return apperrors.Collab(op, apperrors.KindTransport, err)
		}
		return apperrors.Collab(op, apperrors.KindUnavailable, err)
	}
	return apperrors.Classify(op, err)
}
