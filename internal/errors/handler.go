package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Handler logs errors and reports severe ones to Sentry.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle logs err and returns the message that may be shown to a user.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}

	log := h.log
	if log == nil {
		log = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		log.ErrorContext(ctx, "Handler.Handle: application error",
			"code", appErr.Code,
			"message", appErr.Message,
			"severity", string(appErr.Severity),
			"retryable", appErr.Retryable)

		if h.sentryEnabled && (appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh) {
			h.sendToSentry(err, nil)
		}

		userMessage := appErr.UserMessage
		if userMessage == "" {
			userMessage = "Ocurrió un error. Intenta más tarde."
		}
		return userMessage, appErr.Retryable
	}

	log.ErrorContext(ctx, "Handler.Handle: unknown error", "message", err.Error(), "kind", KindOf(err).String())

	if h.sentryEnabled {
		h.sendToSentry(err, nil)
	}

	return "Ocurrió un error. Intenta más tarde.", false
}

// Report sends err to Sentry with extra tags, regardless of severity.
func (h *Handler) Report(err error, tags map[string]string) {
	if !h.sentryEnabled || err == nil {
		return
	}
	h.sendToSentry(err, tags)
}

func (h *Handler) sendToSentry(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		var appErr *AppError
		if errors.As(err, &appErr) && appErr != nil {
			if appErr.Code != "" {
				scope.SetTag("code", appErr.Code)
			}
			if appErr.Severity != "" {
				scope.SetTag("severity", string(appErr.Severity))
			}
		}
		if kind := KindOf(err); kind != KindUnknown {
			scope.SetTag("kind", kind.String())
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}

		sentry.CaptureException(err)
	})
}
