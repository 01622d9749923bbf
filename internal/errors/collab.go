package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed collaborator call so callers can pick a policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindTransport
	KindMalformed
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport_error"
	case KindMalformed:
		return "malformed_response"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// CollabError is returned by every call to an external collaborator
// (NLU, estimator, spreadsheet, relay supplier, transport).
type CollabError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *CollabError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CollabError) Unwrap() error {
	return e.Err
}

// Collab builds a CollabError with an explicit kind.
func Collab(op string, kind Kind, err error) error {
	return &CollabError{Op: op, Kind: kind, Err: err}
}

// Classify wraps err as a CollabError, inferring the kind from context errors.
// Errors that already carry a kind keep it.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollabError
	if errors.As(err, &ce) {
		return err
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = KindUnavailable
	}
	return &CollabError{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of a CollabError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ce *CollabError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Is and As are re-exported so callers that import this package as
// apperrors don't also need the standard errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
