package store

import (
	"time"
)

// DedupRepo guards against processing the same provider message twice
// (Twilio retries a webhook that did not answer in time).
type DedupRepo interface {
	// RecordInbound inserts messageID. It returns false if the ID was
	// already recorded, in which case the message must be dropped.
	RecordInbound(messageID, sender string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// PruneInbound deletes records received before cutoff.
	PruneInbound(cutoff time.Time) (int, error)
}
