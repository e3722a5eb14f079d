package changeevent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"entitystore/pkg/platform/circuit"
)

// ErrUndeliverable marks a publish failure that retrying cannot fix, such as
// a payload the bus rejects. Publishers wrap it; the relay then gives up on
// the record at once.
var ErrUndeliverable = errors.New("change event undeliverable")

const (
	defaultRelayInterval  = 500 * time.Millisecond
	defaultBatchSize      = 100
	defaultMaxRetries     = 5
	defaultMaxDeliveries  = 50
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// RelayMetrics is the subset of collectors the relay reports to.
type RelayMetrics interface {
	IncEventPublished()
	IncPublishRetry()
	IncPublishExhausted()
	IncEventDropped()
	IncRelaySkipped(reason string)
}

// Relay drains the outbox to a Publisher. Records go out in id order; when a
// record cannot be published the batch stops there so later records for the
// same key never overtake it.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   RelayMetrics
	now       func() time.Time

	interval       time.Duration
	batchSize      int
	maxRetries     uint64
	maxDeliveries  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m RelayMetrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

func WithBreaker(b *circuit.Breaker) RelayOption {
	return func(r *Relay) {
		r.breaker = b
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRetry bounds the publish attempts made for one record within a drain,
// and the exponential backoff between them.
func WithRetry(maxRetries int, initial, maxInterval time.Duration) RelayOption {
	return func(r *Relay) {
		if maxRetries >= 0 {
			r.maxRetries = uint64(maxRetries)
		}
		if initial > 0 {
			r.initialBackoff = initial
		}
		if maxInterval > 0 {
			r.maxBackoff = maxInterval
		}
	}
}

// WithMaxDeliveries sets how many publish attempts a record gets, across
// drains, before it is marked failed.
func WithMaxDeliveries(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxDeliveries = n
		}
	}
}

func NewRelay(outbox Outbox, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:         outbox,
		publisher:      publisher,
		logger:         slog.Default(),
		now:            time.Now,
		interval:       defaultRelayInterval,
		batchSize:      defaultBatchSize,
		maxRetries:     defaultMaxRetries,
		maxDeliveries:  defaultMaxDeliveries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuit.New("change-event-bus", circuit.WithCooldown(10*r.interval))
	}
	return r
}

// Run drains the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "change event relay failed", "error", err)
			}
		}
	}
}

// Drain publishes one batch and returns how many records went out.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		r.incSkipped("circuit_open")
		return 0, nil
	}

	published := 0
	err := r.outbox.Lock(ctx, func(ctx context.Context) error {
		records, err := r.outbox.Pending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			outcome, err := r.deliver(ctx, rec)
			if err != nil {
				return err
			}
			switch outcome {
			case deliveryPublished:
				published++
			case deliveryPending:
				return nil
			}
		}
		return nil
	})
	if errors.Is(err, ErrRelayLocked) {
		r.incSkipped("lock_held")
		return 0, nil
	}
	return published, err
}

type deliveryOutcome int

const (
	deliveryPublished deliveryOutcome = iota
	deliveryDropped
	deliveryPending
)

// deliver publishes one record with bounded retries. deliveryPending means the
// record stays in the outbox and the batch must stop.
func (r *Relay) deliver(ctx context.Context, rec Record) (deliveryOutcome, error) {
	attempts := 0
	undeliverable := false
	publish := func() error {
		if attempts > 0 && r.metrics != nil {
			r.metrics.IncPublishRetry()
		}
		attempts++
		err := r.publisher.Publish(ctx, rec.PartitionKey, rec.Payload, Headers(rec))
		if errors.Is(err, ErrUndeliverable) {
			undeliverable = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.maxRetries), ctx))
	if err == nil {
		if err := r.outbox.MarkPublished(ctx, rec.ID, r.now()); err != nil {
			return deliveryPending, err
		}
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "change event bus recovered", "breaker", r.breaker.Name())
		}
		if r.metrics != nil {
			r.metrics.IncEventPublished()
		}
		return deliveryPublished, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return deliveryPending, ctxErr
	}

	total := rec.Attempts + attempts
	r.logger.ErrorContext(ctx, "change event publish retries exhausted",
		"alert", true,
		"error", err,
		"outbox_id", rec.ID,
		"partition_key", rec.PartitionKey,
		"tenant_id", rec.TenantID,
		"event_type", rec.EventType,
		"sequence", rec.Sequence,
		"attempts", total,
	)
	if r.metrics != nil {
		r.metrics.IncPublishExhausted()
	}

	if undeliverable || total >= r.maxDeliveries {
		if err := r.outbox.MarkFailed(ctx, rec.ID, total, err, r.now()); err != nil {
			return deliveryPending, err
		}
		if r.metrics != nil {
			r.metrics.IncEventDropped()
		}
		return deliveryDropped, nil
	}

	if err := r.outbox.RecordAttempts(ctx, rec.ID, total, err); err != nil {
		return deliveryPending, fmt.Errorf("record publish attempts: %w", err)
	}
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "change event bus circuit opened", "breaker", r.breaker.Name())
	}
	return deliveryPending, nil
}

func (r *Relay) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.MaxInterval = r.maxBackoff
	b.MaxElapsedTime = 0
	return b
}

func (r *Relay) incSkipped(reason string) {
	if r.metrics != nil {
		r.metrics.IncRelaySkipped(reason)
	}
}
