// Package outbox queues side effects that must survive a failed request path:
// scan notifications, usage counter retries and outgoing email. A Dispatcher
// drains the queue and retries failures with exponential backoff.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kamikazebr/musa-estate/internal/server/metrics"
)

// Event states
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusDead       = "dead"
)

const (
	MaxAttempts = 8
	BaseDelay   = 2 * time.Second
	MaxDelay    = 5 * time.Minute

	// ClaimLease is how long a claimed event stays invisible to other
	// dispatchers before it can be claimed again.
	ClaimLease = time.Minute
)

type Event struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	AvailableAt time.Time       `json:"available_at"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Queue is a durable store of events. Claim returns due events with their
// attempt counter already incremented.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Event, error)
	Claim(ctx context.Context, limit int) ([]*Event, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, availableAt time.Time, reason string) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

// Publish encodes payload and enqueues it under kind.
func Publish(ctx context.Context, q Queue, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	if _, err := q.Enqueue(ctx, kind, raw); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", kind, err)
	}
	metrics.OutboxEvents.WithLabelValues(kind, metrics.OutcomeEnqueued).Inc()
	return nil
}

// Backoff returns the delay before retrying an event that has failed
// attempts times.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}
