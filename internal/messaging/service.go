// Package messaging carries chat traffic between partsbot and WhatsApp: a
// rate-limited Sender with a single retry for outbound text, and Services
// that feed inbound messages from Twilio or whatsmeow into one channel.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/zeli-parts/partsbot/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of the inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked inbound emit before the message is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Transport delivers one message and returns the provider message ID.
type Transport interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SentFunc receives the provider ID of a delivered message.
type SentFunc func(messageID string)

// Messenger sends messages on behalf of the business packages. Send never
// blocks; onSent (may be nil) runs once the message is accepted, possibly
// on another goroutine.
type Messenger interface {
	Send(ctx context.Context, to, body string, onSent SentFunc)
}

// Service is a transport that also produces inbound messages.
type Service interface {
	Transport
	Start(ctx context.Context) error
	Stop() error
	Inbound() <-chan models.Inbound
}
