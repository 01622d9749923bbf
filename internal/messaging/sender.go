package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/util"
)

const (
	// DefaultRetryDelay is the pause before the only retry of a failed send.
	DefaultRetryDelay = 5 * time.Second
	// DefaultRatePerSecond and DefaultBurst throttle outbound traffic.
	DefaultRatePerSecond = 20
	DefaultBurst         = 5
)

// FailureFunc is called when a message could not be delivered after the retry.
type FailureFunc func(to, body string, err error)

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithRetryDelay sets the pause before the retry.
func WithRetryDelay(d time.Duration) SenderOption {
	return func(s *Sender) { s.retryDelay = d }
}

// WithRateLimit throttles sends to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) SenderOption {
	return func(s *Sender) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithFailureHook registers fn for messages lost after the retry.
func WithFailureHook(fn FailureFunc) SenderOption {
	return func(s *Sender) { s.onFailure = fn }
}

// WithSenderLogger sets the logger.
func WithSenderLogger(log *slog.Logger) SenderOption {
	return func(s *Sender) { s.log = log }
}

// Sender implements Messenger over a Transport. Messages to one recipient
// go out in order from a background lane; a failed message is retried once
// in its lane before the next one is sent.
type Sender struct {
	transport  Transport
	limiter    *rate.Limiter
	retryDelay time.Duration
	onFailure  FailureFunc
	log        *slog.Logger

	mu     sync.Mutex
	lanes  map[string][]outbound
	closed bool

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

type outbound struct {
	ctx    context.Context
	body   string
	onSent SentFunc
}

// NewSender creates a Sender for transport.
func NewSender(transport Transport, opts ...SenderOption) *Sender {
	s := &Sender{
		transport:  transport,
		limiter:    rate.NewLimiter(DefaultRatePerSecond, DefaultBurst),
		retryDelay: DefaultRetryDelay,
		log:        slog.Default(),
		lanes:      make(map[string][]outbound),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements Messenger. It queues the message and returns at once.
func (s *Sender) Send(ctx context.Context, to, body string, onSent SentFunc) {
	canonical, err := util.CanonicalPhone(to)
	if err != nil {
		s.log.Error("Sender.Send: invalid recipient", "to", to, "error", err)
		s.fail(to, body, err)
		return
	}

	// Delivery outlives the inbound request that triggered the send.
	msg := outbound{ctx: context.WithoutCancel(ctx), body: body, onSent: onSent}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(canonical, body, ErrServiceStopped)
		return
	}
	queue, running := s.lanes[canonical]
	s.lanes[canonical] = append(queue, msg)
	if !running {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !running {
		go s.drain(canonical)
	}
}

// drain sends everything queued for to, then retires the lane.
func (s *Sender) drain(to string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.lanes[to]
		if len(queue) == 0 {
			delete(s.lanes, to)
			s.mu.Unlock()
			return
		}
		msg := queue[0]
		s.lanes[to] = queue[1:]
		s.mu.Unlock()

		s.deliver(to, msg)
	}
}

func (s *Sender) deliver(to string, msg outbound) {
	id, err := s.attempt(msg.ctx, to, msg.body)
	if err == nil {
		s.delivered(to, id, msg.onSent)
		return
	}
	s.log.Warn("Sender.deliver: first attempt failed, retrying", "to", to, "delay", s.retryDelay, "error", err)

	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stop:
		s.fail(to, msg.body, ErrServiceStopped)
		return
	}
	id, err = s.attempt(msg.ctx, to, msg.body)
	if err != nil {
		s.log.Error("Sender.deliver: retry failed, message lost", "to", to, "error", err)
		s.fail(to, msg.body, err)
		return
	}
	s.delivered(to, id, msg.onSent)
}

func (s *Sender) attempt(ctx context.Context, to, body string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", apperrors.Classify("messaging.send", err)
	}
	id, err := s.transport.Send(ctx, to, body)
	if err != nil {
		return "", apperrors.Classify("messaging.send", err)
	}
	return id, nil
}

func (s *Sender) delivered(to, id string, onSent SentFunc) {
	s.log.Debug("Sender.deliver: delivered", "to", to, "id", id)
	if onSent != nil {
		onSent(id)
	}
}

func (s *Sender) fail(to, body string, err error) {
	if s.onFailure != nil {
		s.onFailure(to, body, err)
	}
}

// Wait blocks until every queued message has been delivered or given up.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Close stops accepting messages, sends what is already queued without
// retrying, and waits for the lanes to empty.
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
