package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/zeli-parts/partsbot/internal/util"
)

// SentMessage is one message captured by a mock.
type SentMessage struct {
	ID   string
	To   string
	Body string
}

// MockTransport is a Transport for tests. The first FailTimes sends fail.
type MockTransport struct {
	mu        sync.Mutex
	FailTimes int
	Sent      []SentMessage
	Attempts  int
}

// Send implements Transport.
func (m *MockTransport) Send(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.FailTimes > 0 {
		m.FailTimes--
		return "", errors.New("mock transport failure")
	}
	id := util.GenerateRandomID("msg_", 16)
	m.Sent = append(m.Sent, SentMessage{ID: id, To: to, Body: body})
	return id, nil
}

// Messages returns a copy of the delivered messages.
func (m *MockTransport) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// Recorder is a synchronous Messenger that records every message.
type Recorder struct {
	mu   sync.Mutex
	sent []SentMessage
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send implements Messenger; onSent runs before Send returns.
func (r *Recorder) Send(ctx context.Context, to, body string, onSent SentFunc) {
	id := util.GenerateRandomID("msg_", 16)
	r.mu.Lock()
	r.sent = append(r.sent, SentMessage{ID: id, To: to, Body: body})
	r.mu.Unlock()
	if onSent != nil {
		onSent(id)
	}
}

// Messages returns a copy of everything sent.
func (r *Recorder) Messages() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.sent...)
}

// To returns the bodies sent to one recipient, in order.
func (r *Recorder) To(to string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

// Last returns the most recent message sent to to, or the zero value.
func (r *Recorder) Last(to string) SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == to {
			return r.sent[i]
		}
	}
	return SentMessage{}
}

// Contains reports whether any message to to contains substr.
func (r *Recorder) Contains(to, substr string) bool {
	for _, body := range r.To(to) {
		if strings.Contains(body, substr) {
			return true
		}
	}
	return false
}

// Reset clears the recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
