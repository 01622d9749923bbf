package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/whatsapp"
)

// WhatsAppService implements Service over the whatsmeow client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // nil when client is a mock
	inbound  chan models.Inbound

	mu      sync.RWMutex
	stopped bool
}

// NewWhatsAppService wraps client. Inbound events are only consumed when
// client is a real *whatsapp.Client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		inbound: make(chan models.Inbound, DefaultChannelBufferSize),
	}
	if wa, ok := client.(*whatsapp.Client); ok {
		s.waClient = wa
	}
	return s
}

// Start registers the message event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.OnMessage(s.emit)
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel and disconnects.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil {
		s.waClient.Close()
	}
	close(s.inbound)
	return nil
}

// Send implements Transport.
func (s *WhatsAppService) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body)
}

// Inbound returns the channel of received messages.
func (s *WhatsAppService) Inbound() <-chan models.Inbound {
	return s.inbound
}

func (s *WhatsAppService) emit(in models.Inbound) {
	emitInbound(&s.mu, &s.stopped, s.inbound, in)
}

// emitInbound pushes in unless the service stopped, dropping it when the
// consumer stays blocked past DefaultChannelTimeout.
func emitInbound(mu *sync.RWMutex, stopped *bool, ch chan models.Inbound, in models.Inbound) bool {
	mu.RLock()
	defer mu.RUnlock()
	if *stopped {
		slog.Warn("messaging: dropping inbound message, service stopped", "from", in.From)
		return false
	}
	select {
	case ch <- in:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: inbound channel blocked, dropping message", "from", in.From, "timeout", DefaultChannelTimeout)
		return false
	}
}
