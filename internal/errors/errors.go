// Package errors defines the error taxonomy of partsbot: collaborator
// failures with an explicit kind, and application errors for the HTTP edge.
package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: fmt.Sprintf("Datos inválidos. %s", msg),
		Severity:    SeverityLow,
	}
}

func NewStorageError(cause error) *AppError {
	var underlying string
	if cause != nil {
		underlying = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("storage error: %s", underlying),
		UserMessage: "Problema temporal, intenta más tarde.",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewCollaboratorError wraps a CollabError for reporting. Timeouts and
// transport failures are retryable, malformed responses are not.
func NewCollaboratorError(cause error) *AppError {
	kind := KindOf(cause)
	return &AppError{
		Code:        "E300",
		Message:     fmt.Sprintf("collaborator error (%s): %v", kind, cause),
		UserMessage: "Servicio temporalmente no disponible.",
		Severity:    SeverityMedium,
		Retryable:   kind == KindTimeout || kind == KindTransport,
		cause:       cause,
	}
}

func NewPanicError(recovered any) *AppError {
	return &AppError{
		Code:     "E900",
		Message:  fmt.Sprintf("panic: %v", recovered),
		Severity: SeverityCritical,
	}
}
