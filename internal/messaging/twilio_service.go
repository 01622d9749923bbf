package messaging

import (
	"context"
	"sync"

	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API. Inbound
// messages arrive through the HTTP webhook, which hands them to Deliver.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	inbound chan models.Inbound

	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService around client (real or mock).
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.Inbound, DefaultChannelBufferSize),
	}
}

// Start is a no-op; Twilio pushes to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// Send implements Transport.
func (s *TwilioService) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body)
}

// Deliver queues a webhook message for processing. It reports false when
// the message was dropped.
func (s *TwilioService) Deliver(in models.Inbound) bool {
	return emitInbound(&s.mu, &s.stopped, s.inbound, in)
}

// Inbound returns the channel of received messages.
func (s *TwilioService) Inbound() <-chan models.Inbound {
	return s.inbound
}
