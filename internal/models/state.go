package models

import "time"

// State is the conversation lifecycle state.
type State string

const (
	// StateActive means the customer is still building the request queue.
	StateActive State = "ACTIVE"
	// StateWaiting means sourcing, approval or selection is in progress.
	StateWaiting State = "WAITING"
	// StateCompleted means the conversation was closed.
	StateCompleted State = "COMPLETED"
)

// Conversation tracks one customer's request across turns.
type Conversation struct {
	Customer   string        `json:"customer"`
	State      State         `json:"state"`
	Queue      []RequestItem `json:"queue"`
	Confirming bool          `json:"confirming"`
	LastSeen   time.Time     `json:"last_seen"`
	StartedAt  time.Time     `json:"started_at"`
	Raw        string        `json:"raw,omitempty"`
}

// NewConversation starts an ACTIVE conversation for customer.
func NewConversation(customer string, now time.Time) *Conversation {
	return &Conversation{
		Customer:  customer,
		State:     StateActive,
		LastSeen:  now,
		StartedAt: now,
	}
}

// QueueComplete reports whether the queue is non-empty and every item is complete.
func (c *Conversation) QueueComplete() bool {
	if len(c.Queue) == 0 {
		return false
	}
	for _, item := range c.Queue {
		if !item.IsComplete() {
			return false
		}
	}
	return true
}

// FirstIncomplete returns the index of the first incomplete item, or -1.
func (c *Conversation) FirstIncomplete() int {
	for i, item := range c.Queue {
		if !item.IsComplete() {
			return i
		}
	}
	return -1
}

// Idle reports whether the conversation has been silent longer than ttl.
func (c *Conversation) Idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastSeen) > ttl
}

// Clone returns a deep copy safe to mutate independently.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Queue = append([]RequestItem(nil), c.Queue...)
	return &cp
}
