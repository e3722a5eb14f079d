// Package service is the entity repository: merge-upserts, reads, queries and
// soft deletes over a document store, with change events enqueued in the same
// transaction as the write they describe.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"entitystore/internal/entity/changeevent"
	"entitystore/internal/entity/merge"
	"entitystore/internal/entity/models"
	dErrors "entitystore/pkg/domain-errors"
	"entitystore/pkg/platform/sentinel"
	"entitystore/pkg/requestcontext"
)

const (
	defaultMaxAttempts     = 5
	defaultOpTimeout       = 5 * time.Second
	defaultBulkConcurrency = 8
	maxBulkItems           = 1000
	tracerName             = "entitystore/internal/entity/service"
)

// DocumentStore is the persistence capability. Write is a compare-and-swap on
// the document version and returns sentinel.ErrConflict when it loses; lookups
// return sentinel.ErrNotFound and include tombstones.
type DocumentStore interface {
	FindByKey(ctx context.Context, tenantID, mergeKey string) (*models.Document, error)
	FindByID(ctx context.Context, tenantID, entityID string) (*models.Document, error)
	Write(ctx context.Context, doc *models.Document, expectedVersion int64) error
	Query(ctx context.Context, q models.Query) iter.Seq2[*models.Entity, error]
}

// TxRunner runs fn in a transaction carried by ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type IdentityResolver interface {
	Resolve(ctx context.Context, tenantID, entityType string, identifying models.AttributeMap) (models.MergeKey, error)
}

// EventGenerator turns a committed write into an enqueued change event.
type EventGenerator interface {
	OnWriteCompleted(ctx context.Context, w changeevent.Write) (*models.ChangeEvent, error)
}

// Metrics is the subset of collectors the service reports to.
type Metrics interface {
	IncWrite(operation, outcome string)
	IncConflictRetry()
	IncRetriesExhausted()
	ObserveOperation(operation string, d time.Duration)
}

// UpsertRequest is one record to merge into the store. Condition, when set,
// must hold on the existing entity for the upsert to apply.
type UpsertRequest struct {
	TenantID              string
	EntityType            string
	IdentifyingAttributes models.AttributeMap
	Attributes            models.AttributeMap
	Condition             *models.Predicate
}

// UpsertResult reports the stored entity. Noop and Skipped results wrote
// nothing; Version is then the version already stored.
type UpsertResult struct {
	Entity  *models.Entity
	Created bool
	Noop    bool
	Skipped bool
	Version int64
}

// BulkResult is the outcome of one item of UpsertMany.
type BulkResult struct {
	Result *UpsertResult
	Err    error
}

// attemptOutcome is the result of one read-merge-write attempt.
type attemptOutcome int

const (
	attemptCommitted attemptOutcome = iota
	attemptNoop
	attemptConflict
)

func (o attemptOutcome) String() string {
	switch o {
	case attemptCommitted:
		return "committed"
	case attemptNoop:
		return "noop"
	default:
		return "conflict"
	}
}

// attemptFunc runs one attempt. attempt counts from 1.
type attemptFunc func(ctx context.Context, attempt int) (attemptOutcome, error)

// Service implements the entity repository operations.
type Service struct {
	store           DocumentStore
	relationships   RelationshipStore
	tx              TxRunner
	resolver        IdentityResolver
	events          EventGenerator
	logger          *slog.Logger
	metrics         Metrics
	tracer          trace.Tracer
	clock           func() time.Time
	maxAttempts     int
	opTimeout       time.Duration
	bulkConcurrency int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock overrides the request time used to stamp writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = now
	}
}

// WithMaxAttempts bounds the read-merge-write attempts of one operation,
// the first attempt included.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithOpTimeout bounds the store calls of each attempt.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// New builds the service. events may be nil when change events are disabled.
func New(store DocumentStore, tx TxRunner, resolver IdentityResolver, events EventGenerator, opts ...Option) *Service {
	s := &Service{
		store:           store,
		tx:              tx,
		resolver:        resolver,
		events:          events,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		maxAttempts:     defaultMaxAttempts,
		opTimeout:       defaultOpTimeout,
		bulkConcurrency: defaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert resolves the record's identity and merges it into the stored entity,
// creating it when absent. A write lost to a concurrent writer is retried from
// the read up to the attempt bound.
//
// Tombstones win: an upsert that first saw a live entity and then finds it
// deleted fails with EntityDeleted. An upsert that first finds a tombstone
// recreates the entity under the same id.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	ctx, span := s.startSpan(ctx, "entity.upsert", req.TenantID,
		attribute.String("entity_type", req.EntityType))
	defer span.End()
	defer s.observe("upsert", time.Now())

	result, err := s.upsert(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, span, "upsert", err)
	}
	span.SetAttributes(attribute.String("entity_id", result.Entity.EntityID))
	return result, nil
}

func (s *Service) upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	if err := validateAttributes(req.IdentifyingAttributes, req.Attributes); err != nil {
		return nil, err
	}
	key, err := s.resolver.Resolve(ctx, req.TenantID, req.EntityType, req.IdentifyingAttributes)
	if err != nil {
		return nil, err
	}
	in := merge.Incoming{
		Key:         key,
		EntityID:    key.EntityID(),
		Identifying: req.IdentifyingAttributes,
		Attributes:  req.Attributes,
		Condition:   req.Condition,
	}

	var (
		result  *UpsertResult
		sawLive bool
	)
	err = s.retry(ctx, "upsert", func(ctx context.Context, attempt int) (attemptOutcome, error) {
		current, err := s.findByKey(ctx, key)
		if err != nil {
			return 0, err
		}
		live := current.Live()
		if attempt == 1 {
			sawLive = live != nil
		} else if sawLive && live == nil {
			return 0, models.EntityDeleted(in.EntityID)
		}

		var (
			existingKey string
			version     int64
		)
		if current != nil {
			existingKey = current.MergeKey
			version = current.Version
		}
		now := s.now(ctx)
		res, err := merge.Merge(live, existingKey, in, now)
		if err != nil {
			return 0, err
		}
		if res.Noop || res.Skipped {
			result = &UpsertResult{Entity: res.Entity.Clone(), Noop: res.Noop, Skipped: res.Skipped, Version: version}
			return attemptNoop, nil
		}

		doc := &models.Document{Entity: *res.Entity, MergeKey: key.String(), Version: version + 1}
		outcome, err := s.commit(ctx, doc, version, changeevent.Write{
			Key:      key,
			Previous: live,
			Current:  res.Entity,
			Sequence: doc.Version,
			At:       now,
		})
		if outcome == attemptCommitted {
			result = &UpsertResult{Entity: res.Entity.Clone(), Created: live == nil, Version: doc.Version}
		}
		return outcome, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateAttributes merges attrs into the live entity with the given id.
// Identifying attributes may be restated but not changed.
func (s *Service) UpdateAttributes(ctx context.Context, tenantID, entityID string, attrs models.AttributeMap) (*UpsertResult, error) {
	ctx, span := s.startSpan(ctx, "entity.update_attributes", tenantID, attribute.String("entity_id", entityID))
	defer span.End()
	defer s.observe("update_attributes", time.Now())

	if err := requireIDs(tenantID, entityID); err != nil {
		return nil, s.fail(ctx, span, "update_attributes", err)
	}
	if err := validateAttributes(attrs); err != nil {
		return nil, s.fail(ctx, span, "update_attributes", err)
	}

	var result *UpsertResult
	err := s.retry(ctx, "update_attributes", func(ctx context.Context, attempt int) (attemptOutcome, error) {
		current, err := s.findByID(ctx, tenantID, entityID)
		if err != nil {
			return 0, err
		}
		if current.Deleted {
			if attempt == 1 {
				return 0, models.EntityNotFound(entityID)
			}
			return 0, models.EntityDeleted(entityID)
		}
		key, err := s.parseKey(current)
		if err != nil {
			return 0, err
		}

		now := s.now(ctx)
		res, err := merge.Merge(&current.Entity, current.MergeKey, merge.Incoming{
			Key:         key,
			EntityID:    current.Entity.EntityID,
			Identifying: current.Entity.IdentifyingAttributes,
			Attributes:  attrs,
		}, now)
		if err != nil {
			return 0, err
		}
		if res.Noop {
			result = &UpsertResult{Entity: res.Entity.Clone(), Noop: true, Version: current.Version}
			return attemptNoop, nil
		}

		doc := &models.Document{Entity: *res.Entity, MergeKey: current.MergeKey, Version: current.Version + 1}
		outcome, err := s.commit(ctx, doc, current.Version, changeevent.Write{
			Key:      key,
			Previous: &current.Entity,
			Current:  res.Entity,
			Sequence: doc.Version,
			At:       now,
		})
		if outcome == attemptCommitted {
			result = &UpsertResult{Entity: res.Entity.Clone(), Version: doc.Version}
		}
		return outcome, err
	})
	if err != nil {
		return nil, s.fail(ctx, span, "update_attributes", err)
	}
	return result, nil
}

// UpsertMany upserts every request with bounded concurrency. Each item carries
// its own result or error; the call itself fails only for an invalid batch.
func (s *Service) UpsertMany(ctx context.Context, reqs []UpsertRequest) ([]BulkResult, error) {
	if len(reqs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one entity is required")
	}
	if len(reqs) > maxBulkItems {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("at most %d entities per request", maxBulkItems))
	}

	results := make([]BulkResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Upsert(ctx, req)
			results[i] = BulkResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Get returns the live entity with the given id.
func (s *Service) Get(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	ctx, span := s.startSpan(ctx, "entity.get", tenantID, attribute.String("entity_id", entityID))
	defer span.End()
	defer s.observe("get", time.Now())

	if err := requireIDs(tenantID, entityID); err != nil {
		return nil, s.fail(ctx, span, "get", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	doc, err := s.findByID(ctx, tenantID, entityID)
	if err != nil {
		return nil, s.fail(ctx, span, "get", err)
	}
	if doc.Deleted {
		return nil, s.fail(ctx, span, "get", models.EntityNotFound(entityID))
	}
	return doc.Entity.Clone(), nil
}

// Query streams the live entities matching q. Each range re-runs the query.
func (s *Service) Query(ctx context.Context, q models.Query) iter.Seq2[*models.Entity, error] {
	return func(yield func(*models.Entity, error) bool) {
		ctx, span := s.startSpan(ctx, "entity.query", q.TenantID,
			attribute.String("entity_type", q.EntityType),
			attribute.Int("predicates", len(q.Predicates)))
		defer span.End()
		defer s.observe("query", time.Now())

		if err := q.Validate(); err != nil {
			yield(nil, s.fail(ctx, span, "query", dErrors.Wrap(err, dErrors.CodeBadRequest, err.Error())))
			return
		}
		for e, err := range s.store.Query(ctx, q) {
			if err != nil {
				yield(nil, s.fail(ctx, span, "query", models.StorageUnavailable(err)))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Delete tombstones the entity. Deleting a missing or already deleted entity
// returns EntityNotFound.
func (s *Service) Delete(ctx context.Context, tenantID, entityID string) error {
	ctx, span := s.startSpan(ctx, "entity.delete", tenantID, attribute.String("entity_id", entityID))
	defer span.End()
	defer s.observe("delete", time.Now())

	if err := requireIDs(tenantID, entityID); err != nil {
		return s.fail(ctx, span, "delete", err)
	}
	if err := s.delete(ctx, tenantID, entityID); err != nil {
		return s.fail(ctx, span, "delete", err)
	}
	return nil
}

func (s *Service) delete(ctx context.Context, tenantID, entityID string) error {
	return s.retry(ctx, "delete", func(ctx context.Context, _ int) (attemptOutcome, error) {
		current, err := s.findByID(ctx, tenantID, entityID)
		if err != nil {
			return 0, err
		}
		if current.Deleted {
			return 0, models.EntityNotFound(entityID)
		}
		key, err := s.parseKey(current)
		if err != nil {
			return 0, err
		}

		now := s.now(ctx)
		tomb := &models.Document{
			Entity:    *current.Entity.Clone(),
			MergeKey:  current.MergeKey,
			Version:   current.Version + 1,
			Deleted:   true,
			DeletedAt: &now,
		}
		tomb.Entity.UpdatedTime = now
		return s.commit(ctx, tomb, current.Version, changeevent.Write{
			Key:      key,
			Previous: &current.Entity,
			Sequence: tomb.Version,
			At:       now,
		})
	})
}

// PurgeTenant tombstones every live entity of entityType for the tenant and
// returns how many it deleted. Entities deleted concurrently are not counted.
func (s *Service) PurgeTenant(ctx context.Context, tenantID, entityType string) (int, error) {
	ctx, span := s.startSpan(ctx, "entity.purge", tenantID, attribute.String("entity_type", entityType))
	defer span.End()
	defer s.observe("purge", time.Now())

	var ids []string
	for e, err := range s.Query(ctx, models.Query{TenantID: tenantID, EntityType: entityType}) {
		if err != nil {
			return 0, err
		}
		ids = append(ids, e.EntityID)
	}

	deleted := 0
	for _, id := range ids {
		err := s.delete(ctx, tenantID, id)
		if errors.Is(err, models.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return deleted, s.fail(ctx, span, "purge", err)
		}
		deleted++
	}
	span.SetAttributes(attribute.Int("deleted", deleted))
	s.logger.InfoContext(ctx, "purged entities",
		"tenant_id", tenantID,
		"entity_type", entityType,
		"deleted", deleted,
		"request_id", requestcontext.RequestID(ctx),
	)
	return deleted, nil
}

// retry runs fn until it commits or reports a no-op, at most maxAttempts
// times. Only conflicts are retried; every error ends the loop.
func (s *Service) retry(ctx context.Context, operation string, fn attemptFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.StorageUnavailable(err)
		}
		outcome, err := s.attempt(ctx, attempt, fn)
		if err != nil {
			return err
		}
		switch outcome {
		case attemptCommitted, attemptNoop:
			s.incWrite(operation, outcome.String())
			return nil
		case attemptConflict:
			s.incConflictRetry()
			s.logger.DebugContext(ctx, "entity write lost a version race, retrying",
				"operation", operation,
				"attempt", attempt,
				"tenant_id", requestcontext.TenantID(ctx),
			)
		}
	}
	s.incWrite(operation, "exhausted")
	if s.metrics != nil {
		s.metrics.IncRetriesExhausted()
	}
	s.logger.WarnContext(ctx, "entity write retries exhausted",
		"operation", operation,
		"attempts", s.maxAttempts,
		"request_id", requestcontext.RequestID(ctx),
	)
	return models.ConcurrentModification(s.maxAttempts)
}

func (s *Service) attempt(ctx context.Context, attempt int, fn attemptFunc) (attemptOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return fn(ctx, attempt)
}

// commit writes doc and enqueues its change event in one transaction.
func (s *Service) commit(ctx context.Context, doc *models.Document, expectedVersion int64, w changeevent.Write) (attemptOutcome, error) {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Write(ctx, doc, expectedVersion); err != nil {
			return err
		}
		if s.events == nil {
			return nil
		}
		if _, err := s.events.OnWriteCompleted(ctx, w); err != nil {
			return fmt.Errorf("generate change event: %w", err)
		}
		return nil
	})
	switch {
	case err == nil:
		return attemptCommitted, nil
	case errors.Is(err, sentinel.ErrConflict):
		return attemptConflict, nil
	default:
		return 0, models.StorageUnavailable(err)
	}
}

// findByKey returns nil without error when no document exists for key.
func (s *Service) findByKey(ctx context.Context, key models.MergeKey) (*models.Document, error) {
	doc, err := s.store.FindByKey(ctx, key.TenantID, key.String())
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.StorageUnavailable(err)
	}
	return doc, nil
}

func (s *Service) findByID(ctx context.Context, tenantID, entityID string) (*models.Document, error) {
	doc, err := s.store.FindByID(ctx, tenantID, entityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, models.EntityNotFound(entityID)
	}
	if err != nil {
		return nil, models.StorageUnavailable(err)
	}
	return doc, nil
}

func (s *Service) parseKey(doc *models.Document) (models.MergeKey, error) {
	key, err := models.ParseMergeKey(doc.Entity.TenantID, doc.Entity.EntityType, doc.MergeKey)
	if err != nil {
		return models.MergeKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "stored entity has a malformed merge key")
	}
	return key, nil
}

// now is the write timestamp: the request time, in UTC, at the precision the
// stores keep.
func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC().Truncate(time.Microsecond)
	}
	return requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
}

func validateAttributes(maps ...models.AttributeMap) error {
	for _, m := range maps {
		if err := m.Validate(); err != nil {
			return models.InvalidAttributes(err)
		}
	}
	return nil
}

func requireIDs(tenantID, entityID string) error {
	if tenantID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "tenant is required")
	}
	if entityID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name, tenantID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("tenant_id", tenantID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fail records err on the span and logs failures the caller cannot fix.
func (s *Service) fail(ctx context.Context, span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, dErrors.Message(err))
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnavailable, dErrors.CodeTimeout, dErrors.CodeInternal:
		s.logger.ErrorContext(ctx, "entity operation failed",
			"operation", operation,
			"error", err,
			"tenant_id", requestcontext.TenantID(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return err
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, time.Since(start))
	}
}

func (s *Service) incWrite(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.IncWrite(operation, outcome)
	}
}

func (s *Service) incConflictRetry() {
	if s.metrics != nil {
		s.metrics.IncConflictRetry()
	}
}
