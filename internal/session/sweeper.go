package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeli-parts/partsbot/internal/models"
)

// ExpireFunc is invoked for each purged conversation, after deletion.
type ExpireFunc func(ctx context.Context, conv *models.Conversation)

// LockFunc serializes the sweeper with message handling for one customer.
type LockFunc func(customer string) (unlock func())

// Sweeper purges conversations idle for longer than the TTL.
type Sweeper struct {
	store    Store
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
	onExpire ExpireFunc
	lock     LockFunc
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithExpireHook registers fn to run for every purged conversation.
func WithExpireHook(fn ExpireFunc) SweeperOption {
	return func(s *Sweeper) { s.onExpire = fn }
}

// WithLock makes each purge hold the customer's processing lock.
func WithLock(fn LockFunc) SweeperOption {
	return func(s *Sweeper) { s.lock = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store Store, log *slog.Logger, ttl, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		store:    store,
		log:      log,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper.Run: stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges idle conversations once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	convs, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("Sweeper.Sweep: list failed", "error", err)
		return 0
	}

	purged := 0
	for _, c := range convs {
		if ctx.Err() != nil {
			return purged
		}
		if s.purge(ctx, c.Customer) {
			purged++
		}
	}
	if purged > 0 {
		s.log.Info("Sweeper.Sweep: purged idle conversations", "count", purged)
	}
	return purged
}

func (s *Sweeper) purge(ctx context.Context, customer string) bool {
	if s.lock != nil {
		unlock := s.lock(customer)
		defer unlock()
	}

	// Re-read under the lock: a message may have refreshed LastSeen.
	conv, err := s.store.Get(ctx, customer)
	if err != nil {
		return false
	}
	if !conv.Idle(s.now(), s.ttl) {
		return false
	}
	if err := s.store.Delete(ctx, customer); err != nil {
		s.log.Error("Sweeper.purge: delete failed", "customer", customer, "error", err)
		return false
	}
	s.log.Debug("Sweeper.purge: conversation expired", "customer", customer, "state", conv.State, "confirming", conv.Confirming)
	if s.onExpire != nil {
		s.onExpire(ctx, conv)
	}
	return true
}
