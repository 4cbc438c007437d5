// Package events is the run-events bus: every stage transition, progress
// tick, and log line a run or operation produces is appended to the store
// with a monotonic per-subject seq and broadcast live to any subscriber
// (the HTTP API's WebSocket stream). The broadcast half is adapted from the
// teacher's pkg/events broker; the seq+store-append half is new, since the
// teacher's events are fire-and-forget with no durable backlog.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/model"
)

// Event is one published run-event, already assigned its seq.
type Event struct {
	RunID     uuid.UUID
	Seq       int64
	Type      string
	Data      json.RawMessage
	CreatedAt time.Time
}

// Subscriber is a per-consumer channel. Sends never block the publisher: a
// full subscriber buffer drops the newest event and relies on the
// consumer's own after_seq catch-up query to fill the gap, matching the
// teacher's broadcast's "subscriber buffer full, skip" behavior.
type Subscriber chan *Event

const subscriberBuffer = 64

// appender is the subset of *store.Store this package depends on; defined
// here (not imported from internal/store) to avoid a dependency cycle,
// since internal/store never needs to know about the bus.
type appender interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	AppendRunEvent(ctx context.Context, e *model.RunEvent) error
	ListRunEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]model.RunEvent, error)
}

// seqAssigner mirrors store.NextRunEventSeq without importing internal/store.
type seqAssigner func(tx *gorm.DB, runID uuid.UUID) (int64, error)

// Bus owns the append+broadcast path for run events.
type Bus struct {
	store       appender
	nextSeq     seqAssigner
	mu          sync.RWMutex
	subscribers map[Subscriber]uuid.UUID // value is the run the subscriber follows
}

// NewBus wires a Bus to its store, taking the seq-assignment function so
// internal/store stays free of any events-package import.
func NewBus(store appender, nextSeq seqAssigner) *Bus {
	return &Bus{store: store, nextSeq: nextSeq, subscribers: make(map[Subscriber]uuid.UUID)}
}

// Publish assigns the next seq for runID and appends+broadcasts atomically:
// the seq assignment and the row insert happen in one transaction so two
// concurrent publishers for the same run can never collide on seq.
func (b *Bus) Publish(ctx context.Context, runID uuid.UUID, eventType string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return err
	}

	var seq int64
	now := time.Now()
	err = b.store.WithTx(ctx, func(tx *gorm.DB) error {
		s, err := b.nextSeq(tx, runID)
		if err != nil {
			return err
		}
		seq = s
		row := &model.RunEvent{RunID: runID, Seq: seq, Type: eventType, DataJSON: string(dataJSON), CreatedAt: now}
		return tx.Create(row).Error
	})
	if err != nil {
		return err
	}

	b.broadcast(&Event{RunID: runID, Seq: seq, Type: eventType, Data: dataJSON, CreatedAt: now})
	return nil
}

// Subscribe registers a new subscriber following one run's events.
func (b *Bus) Subscribe(runID uuid.UUID) Subscriber {
	sub := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[sub] = runID
	b.mu.Unlock()
	return sub
}

// Unsubscribe deregisters and closes a subscriber channel.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Bus) broadcast(evt *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub, runID := range b.subscribers {
		if runID != evt.RunID {
			continue
		}
		select {
		case sub <- evt:
		default:
			// subscriber behind; it must fall back to an after_seq catch-up
			// query against the store rather than block the publisher.
		}
	}
}

// CatchUp returns events with seq > afterSeq. The run-events WebSocket
// handler uses it for a subscriber's initial backlog; it does not call it
// again to fill a gap left by a dropped broadcast.
func (b *Bus) CatchUp(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]model.RunEvent, error) {
	return b.store.ListRunEventsAfter(ctx, runID, afterSeq, 0)
}
