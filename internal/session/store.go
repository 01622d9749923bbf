// Package session stores per-customer conversations and expires idle ones.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/zeli-parts/partsbot/internal/models"
)

// ErrNotFound is returned by Get when the customer has no conversation.
var ErrNotFound = errors.New("session: conversation not found")

// Store holds at most one conversation per customer number.
type Store interface {
	Get(ctx context.Context, customer string) (*models.Conversation, error)
	Put(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, customer string) error
	List(ctx context.Context) ([]*models.Conversation, error)
}

// MemoryStore is a process-local Store. Values are copied in and out so
// callers never share a Conversation with the map.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*models.Conversation)}
}

func (s *MemoryStore) Get(_ context.Context, customer string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[customer]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, conv *models.Conversation) error {
	if conv == nil || conv.Customer == "" {
		return errors.New("session: conversation without customer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.Customer] = conv.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, customer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, customer)
	return nil
}

// List returns all conversations ordered by customer number.
func (s *MemoryStore) List(_ context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Customer < out[j].Customer })
	return out, nil
}
