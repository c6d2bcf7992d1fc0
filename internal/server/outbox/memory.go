package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps events in process. Used when DATABASE_URL is not set
// and in tests; events do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
	now    func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		events: make(map[uuid.UUID]*Event),
		now:    time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Event, error) {
	now := q.now()
	e := &Event{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     append(json.RawMessage(nil), payload...),
		Status:      StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}

	q.mu.Lock()
	q.events[e.ID] = e
	q.mu.Unlock()

	out := *e
	return &out, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, limit int) ([]*Event, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*Event, 0)
	for _, e := range q.events {
		if (e.Status == StatusPending || e.Status == StatusProcessing) && !e.AvailableAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AvailableAt.Before(due[j].AvailableAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Event, 0, len(due))
	for _, e := range due {
		e.Status = StatusProcessing
		e.Attempts++
		e.AvailableAt = now.Add(ClaimLease)
		out := *e
		claimed = append(claimed, &out)
	}
	return claimed, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id uuid.UUID) error {
	return q.update(id, func(e *Event) {
		e.Status = StatusDone
		e.LastError = nil
	})
}

func (q *MemoryQueue) Retry(ctx context.Context, id uuid.UUID, availableAt time.Time, reason string) error {
	return q.update(id, func(e *Event) {
		e.Status = StatusPending
		e.AvailableAt = availableAt
		e.LastError = &reason
	})
}

func (q *MemoryQueue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return q.update(id, func(e *Event) {
		e.Status = StatusDead
		e.LastError = &reason
	})
}

// Get returns a copy of the event, or nil.
func (q *MemoryQueue) Get(id uuid.UUID) *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.events[id]
	if !ok {
		return nil
	}
	out := *e
	return &out
}

// List returns copies of all events with the given kind, oldest first.
func (q *MemoryQueue) List(kind string) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Event, 0)
	for _, e := range q.events {
		if kind == "" || e.Kind == kind {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *MemoryQueue) update(id uuid.UUID, fn func(*Event)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.events[id]
	if !ok {
		return fmt.Errorf("outbox event %s not found", id)
	}
	fn(e)
	return nil
}
