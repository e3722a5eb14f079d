// Package changeevent turns committed entity writes into change events and
// delivers them to the bus.
//
// Events are enqueued in the same transaction as the write they describe
// (transactional outbox). A Relay drains the outbox in insertion order and
// publishes each event keyed by its merge key.
package changeevent

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"entitystore/internal/entity/diff"
	"entitystore/internal/entity/models"
	"entitystore/pkg/requestcontext"
)

// AllEntityTypes enables events for every entity type.
const AllEntityTypes = "*"

// Write describes one committed document write. Previous is nil for a
// creation and Current is nil for a deletion. Sequence is the version the
// write committed at. A zero At falls back to the request time.
type Write struct {
	Key      models.MergeKey
	Previous *models.Entity
	Current  *models.Entity
	Sequence int64
	At       time.Time
}

// Sink accepts generated events. The outbox implementations join the
// transaction carried by ctx.
type Sink interface {
	Enqueue(ctx context.Context, event *models.ChangeEvent) error
}

// GeneratorMetrics is the subset of collectors the generator reports to.
type GeneratorMetrics interface {
	IncEventGenerated(eventType string)
	IncEventSuppressed(reason string)
}

// Generator builds change events from committed writes.
type Generator struct {
	sink         Sink
	logger       *slog.Logger
	metrics      GeneratorMetrics
	enabledTypes map[string]struct{}
	skipPaths    map[string][]string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

func WithGeneratorMetrics(m GeneratorMetrics) GeneratorOption {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithEnabledEntityTypes restricts events to the listed entity types.
// AllEntityTypes enables every type, which is also the default.
func WithEnabledEntityTypes(types ...string) GeneratorOption {
	return func(g *Generator) {
		if len(types) == 0 || slices.Contains(types, AllEntityTypes) {
			g.enabledTypes = nil
			return
		}
		g.enabledTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			g.enabledTypes[t] = struct{}{}
		}
	}
}

// WithSkipAttributes lists, per entity type, attribute paths whose changes
// alone do not produce an UPDATED event. A path also covers everything nested
// beneath it.
func WithSkipAttributes(skip map[string][]string) GeneratorOption {
	return func(g *Generator) {
		g.skipPaths = skip
	}
}

func NewGenerator(sink Sink, opts ...GeneratorOption) *Generator {
	g := &Generator{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnWriteCompleted diffs the write and enqueues the resulting event. It
// returns nil without enqueueing when the write announces nothing: an update
// with no relevant changes, or a disabled entity type. Only enqueue failures
// are returned; a write that cannot be diffed is logged and dropped.
func (g *Generator) OnWriteCompleted(ctx context.Context, w Write) (*models.ChangeEvent, error) {
	if !g.enabled(w.Key.EntityType) {
		g.incSuppressed("disabled_type")
		return nil, nil
	}

	d, err := diff.Compute(w.Previous, w.Current)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to compute entity change",
			"error", err,
			"merge_key", w.Key.String(),
			"tenant_id", w.Key.TenantID,
			"request_id", requestcontext.RequestID(ctx),
		)
		g.incSuppressed("diff_failed")
		return nil, nil
	}
	if d.EventType == models.EventUpdated && !g.relevant(w.Key.EntityType, d.ChangedPaths) {
		g.incSuppressed("no_change")
		return nil, nil
	}

	at := w.At
	if at.IsZero() {
		at = requestcontext.Now(ctx)
	}
	event := &models.ChangeEvent{
		EventType:             d.EventType,
		TenantID:              w.Key.TenantID,
		EntityType:            w.Key.EntityType,
		MergeKey:              w.Key.String(),
		ChangedAttributePaths: d.ChangedPaths,
		EventTimestamp:        at.UTC(),
		SequenceNumber:        w.Sequence,
		UserID:                requestcontext.UserID(ctx),
		RequestID:             requestcontext.RequestID(ctx),
	}
	if w.Previous != nil {
		event.EntityID = w.Previous.EntityID
		event.PreviousState = w.Previous.Attributes.Clone()
	}
	if w.Current != nil {
		event.EntityID = w.Current.EntityID
		event.CurrentState = w.Current.Attributes.Clone()
	}

	if err := g.sink.Enqueue(ctx, event); err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.IncEventGenerated(string(event.EventType))
	}
	return event, nil
}

func (g *Generator) enabled(entityType string) bool {
	if g.enabledTypes == nil {
		return true
	}
	_, ok := g.enabledTypes[entityType]
	return ok
}

// relevant reports whether any changed path falls outside the skip list.
func (g *Generator) relevant(entityType string, changed []string) bool {
	skip := g.skipPaths[entityType]
	for _, p := range changed {
		if !covered(skip, p) {
			return true
		}
	}
	return false
}

func covered(skip []string, path string) bool {
	for _, s := range skip {
		if path == s || strings.HasPrefix(path, s+models.PathSeparator) {
			return true
		}
	}
	return false
}

func (g *Generator) incSuppressed(reason string) {
	if g.metrics != nil {
		g.metrics.IncEventSuppressed(reason)
	}
}
