package changeevent

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"entitystore/internal/entity/models"
	txcontext "entitystore/pkg/platform/tx"
)

// ErrRelayLocked is returned by Outbox.Lock when another relay holds the lock.
var ErrRelayLocked = errors.New("outbox relay lock held elsewhere")

// Record is an enqueued event awaiting publication.
type Record struct {
	ID           int64
	PartitionKey string
	TenantID     string
	EntityType   string
	EventType    models.EventType
	Sequence     int64
	Payload      []byte
	Attempts     int
	CreatedAt    time.Time
}

// Outbox stores events until the relay has published them.
type Outbox interface {
	Sink
	// Lock runs fn while holding the single-relay lock and returns
	// ErrRelayLocked without calling fn when the lock is taken.
	Lock(ctx context.Context, fn func(ctx context.Context) error) error
	// Pending returns up to limit unpublished, unfailed records in id order.
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	// RecordAttempts stores the running attempt count of a record that stays
	// pending.
	RecordAttempts(ctx context.Context, id int64, attempts int, cause error) error
	// MarkFailed takes a record out of the pending set for good.
	MarkFailed(ctx context.Context, id int64, attempts int, cause error, at time.Time) error
}

func newRecord(event *models.ChangeEvent) (Record, error) {
	payload, err := Encode(event)
	if err != nil {
		return Record{}, err
	}
	return Record{
		PartitionKey: event.MergeKey,
		TenantID:     event.TenantID,
		EntityType:   event.EntityType,
		EventType:    event.EventType,
		Sequence:     event.SequenceNumber,
		Payload:      payload,
	}, nil
}

type memoryRecord struct {
	Record
	publishedAt *time.Time
	failedAt    *time.Time
	lastError   string
}

// InMemoryOutbox keeps records in process memory. It pairs with
// store.MemoryTx, which serialises writes so ids follow commit order and
// drops records enqueued by a transaction that fails.
type InMemoryOutbox struct {
	mu      sync.Mutex
	relay   sync.Mutex
	nextID  int64
	records []*memoryRecord
	now     func() time.Time
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{now: time.Now}
}

func (o *InMemoryOutbox) Enqueue(ctx context.Context, event *models.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue change event: %w", err)
	}
	rec, err := newRecord(event)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	rec.ID = o.nextID
	rec.CreatedAt = o.now()
	o.records = append(o.records, &memoryRecord{Record: rec})

	txcontext.OnRollback(ctx, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.records = slices.DeleteFunc(o.records, func(r *memoryRecord) bool { return r.ID == rec.ID })
	})
	return nil
}

func (o *InMemoryOutbox) Lock(ctx context.Context, fn func(ctx context.Context) error) error {
	if !o.relay.TryLock() {
		return ErrRelayLocked
	}
	defer o.relay.Unlock()
	return fn(ctx)
}

func (o *InMemoryOutbox) Pending(_ context.Context, limit int) ([]Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, 0, min(limit, len(o.records)))
	for _, r := range o.records {
		if len(out) == limit {
			break
		}
		if r.publishedAt == nil && r.failedAt == nil {
			out = append(out, r.Record)
		}
	}
	return out, nil
}

func (o *InMemoryOutbox) MarkPublished(_ context.Context, id int64, at time.Time) error {
	return o.update(id, func(r *memoryRecord) {
		r.publishedAt = &at
	})
}

func (o *InMemoryOutbox) RecordAttempts(_ context.Context, id int64, attempts int, cause error) error {
	return o.update(id, func(r *memoryRecord) {
		r.Attempts = attempts
		if cause != nil {
			r.lastError = cause.Error()
		}
	})
}

func (o *InMemoryOutbox) MarkFailed(_ context.Context, id int64, attempts int, cause error, at time.Time) error {
	return o.update(id, func(r *memoryRecord) {
		r.Attempts = attempts
		r.failedAt = &at
		if cause != nil {
			r.lastError = cause.Error()
		}
	})
}

func (o *InMemoryOutbox) update(id int64, fn func(*memoryRecord)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	i, ok := slices.BinarySearchFunc(o.records, id, func(r *memoryRecord, id int64) int {
		return cmp.Compare(r.ID, id)
	})
	if !ok {
		return fmt.Errorf("outbox record %d not found", id)
	}
	fn(o.records[i])
	return nil
}

// Events decodes every enqueued record, published or not. Used by tests and
// the memory bus.
func (o *InMemoryOutbox) Events() ([]*models.ChangeEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.ChangeEvent, 0, len(o.records))
	for _, r := range o.records {
		event, err := Decode(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// Failed returns the ids of records the relay gave up on.
func (o *InMemoryOutbox) Failed() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int64
	for _, r := range o.records {
		if r.failedAt != nil {
			out = append(out, r.ID)
		}
	}
	return out
}
