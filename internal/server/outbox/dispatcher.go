package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/metrics"
)

// Handler processes one event payload. A returned error schedules a retry.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Dispatcher struct {
	queue     Queue
	interval  time.Duration
	batchSize int
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(queue Queue, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		queue:     queue,
		interval:  interval,
		batchSize: 20,
		now:       time.Now,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers the handler for kind, replacing any previous one.
func (d *Dispatcher) Handle(kind string, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// Run drains the queue every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Warning: outbox dispatch failed: %v", err)
			}
		}
	}
}

// RunOnce claims one batch and processes it. It returns the number of
// events handled successfully.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	events, err := d.queue.Claim(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim events: %w", err)
	}

	done := 0
	for _, e := range events {
		if d.process(ctx, e) {
			done++
		}
	}
	return done, nil
}

func (d *Dispatcher) process(ctx context.Context, e *Event) bool {
	d.mu.RLock()
	h, ok := d.handlers[e.Kind]
	d.mu.RUnlock()

	if !ok {
		d.dead(ctx, e, "no handler registered")
		return false
	}

	if err := h(ctx, e.Payload); err != nil {
		if e.Attempts >= MaxAttempts {
			d.dead(ctx, e, err.Error())
			return false
		}
		next := d.now().Add(Backoff(e.Attempts))
		if rerr := d.queue.Retry(ctx, e.ID, next, err.Error()); rerr != nil {
			log.Printf("Warning: failed to reschedule outbox event %s: %v", e.ID, rerr)
		}
		log.Printf("Outbox event %s (%s) attempt %d failed: %v", e.ID, e.Kind, e.Attempts, err)
		metrics.OutboxEvents.WithLabelValues(e.Kind, metrics.OutcomeRetry).Inc()
		return false
	}

	if err := d.queue.Complete(ctx, e.ID); err != nil {
		log.Printf("Warning: failed to complete outbox event %s: %v", e.ID, err)
	}
	metrics.OutboxEvents.WithLabelValues(e.Kind, metrics.OutcomeDone).Inc()
	return true
}

func (d *Dispatcher) dead(ctx context.Context, e *Event, reason string) {
	if err := d.queue.Fail(ctx, e.ID, reason); err != nil {
		log.Printf("Warning: failed to mark outbox event %s dead: %v", e.ID, err)
	}
	log.Printf("Warning: outbox event %s (%s) gave up after %d attempts: %s", e.ID, e.Kind, e.Attempts, reason)
	metrics.OutboxEvents.WithLabelValues(e.Kind, metrics.OutcomeDead).Inc()
}
