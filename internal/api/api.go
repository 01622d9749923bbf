package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeli-parts/partsbot/internal/models"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Endpoint paths.
const (
	WebhookPath = "/webhook"
	StatusPath  = "/status"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
	AuditPath   = "/audit"
)

const shutdownTimeout = 10 * time.Second

// Deliverer queues inbound messages for the dispatcher.
type Deliverer interface {
	Deliver(in models.Inbound) bool
}

// StatusSource reports the bot's current state.
type StatusSource interface {
	Status(ctx context.Context) models.Status
}

// AuditHistory reads the request audit log, newest first.
type AuditHistory interface {
	ListAudit(ctx context.Context, customer string, limit int) ([]models.AuditEntry, error)
}

// SignatureChecker validates Twilio webhook signatures.
type SignatureChecker interface {
	Valid(webhookURL string, form url.Values, signature string) bool
}

// Opts holds configuration for the Server.
type Opts struct {
	Addr       string
	WebhookURL string // public URL Twilio signs; empty derives it from the request
	Validator  SignatureChecker
	Audit      AuditHistory
}

// Option configures the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSignatureValidation enables X-Twilio-Signature checks against
// webhookURL.
func WithSignatureValidation(v SignatureChecker, webhookURL string) Option {
	return func(o *Opts) {
		o.Validator = v
		o.WebhookURL = webhookURL
	}
}

// WithAuditHistory serves the audit log at AuditPath.
func WithAuditHistory(h AuditHistory) Option {
	return func(o *Opts) { o.Audit = h }
}

// Server is the HTTP edge of the bot.
type Server struct {
	opts    Opts
	deliver Deliverer
	status  StatusSource
	now     func() time.Time
	srv     *http.Server
}

// NewServer creates a Server. deliver may be nil when the transport is not
// Twilio; the webhook then rejects every request.
func NewServer(deliver Deliverer, status StatusSource, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{opts: o, deliver: deliver, status: status, now: time.Now}
	s.srv = &http.Server{
		Addr:              o.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the endpoint mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebhookPath, s.webhookHandler)
	mux.HandleFunc(StatusPath, s.statusHandler)
	mux.HandleFunc(HealthPath, s.healthHandler)
	mux.HandleFunc(AuditPath, s.auditHandler)
	mux.Handle(MetricsPath, promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("Server.Run: stopped")
	return nil
}
