package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/twiliowhatsapp"
	"github.com/zeli-parts/partsbot/internal/util"
)

// Audit listing bounds.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// webhookHandler accepts Twilio inbound messages. Any signed request is
// answered 200 so Twilio never retries; processing happens in the
// dispatcher.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: bad form", "error", err)
		writeTwiML(w)
		return
	}

	if s.opts.Validator != nil {
		sig := r.Header.Get(twiliowhatsapp.SignatureHeader)
		if !s.opts.Validator.Valid(s.webhookURL(r), r.PostForm, sig) {
			slog.Warn("Server.webhookHandler: invalid signature", "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}

	in, err := twiliowhatsapp.ParseWebhook(r.PostForm, s.now())
	if err != nil {
		slog.Warn("Server.webhookHandler: ignoring message", "error", err)
		writeTwiML(w)
		return
	}
	if s.deliver == nil || !s.deliver.Deliver(in) {
		slog.Error("Server.webhookHandler: message dropped", "from", in.From, "message_id", in.MessageID)
	} else {
		slog.Debug("Server.webhookHandler: message queued", "from", in.From, "message_id", in.MessageID)
	}
	writeTwiML(w)
}

// webhookURL is the URL Twilio signed: the configured public URL, or one
// rebuilt from the request behind a TLS-terminating proxy.
func (s *Server) webhookURL(r *http.Request) string {
	if s.opts.WebhookURL != "" {
		return s.opts.WebhookURL
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil && r.Header.Get("X-Forwarded-For") == "" {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.status == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Status not available"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.status.Status(r.Context())))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "partsbot"}))
}

// auditHandler lists recent audit entries: GET /audit?customer=&limit=.
func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Audit == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Audit log not available"))
		return
	}

	q := r.URL.Query()
	customer := q.Get("customer")
	if customer != "" {
		canonical, err := util.CanonicalPhone(customer)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid customer number"))
			return
		}
		customer = canonical
	}
	limit := DefaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = min(n, MaxAuditLimit)
	}

	entries, err := s.opts.Audit.ListAudit(r.Context(), customer, limit)
	if err != nil {
		slog.Error("Server.auditHandler: list failed", "customer", customer, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read audit log"))
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(fmt.Sprintf("%d entries", len(entries)), entries))
}
