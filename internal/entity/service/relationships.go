package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"entitystore/internal/entity/models"
	dErrors "entitystore/pkg/domain-errors"
	"entitystore/pkg/requestcontext"
)

const maxRelationshipItems = 1000

// RelationshipStore persists entity relationships. UpsertRelationships joins
// the transaction carried by ctx and never sees a key twice in one call.
type RelationshipStore interface {
	UpsertRelationships(ctx context.Context, rels []*models.Relationship) error
	QueryRelationships(ctx context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error]
}

// WithRelationships enables the relationship operations.
func WithRelationships(store RelationshipStore) Option {
	return func(s *Service) {
		s.relationships = store
	}
}

var errRelationshipsDisabled = dErrors.New(dErrors.CodeUnavailable, "relationships are not enabled")

// GetByIdentity returns the live entity whose identifying attributes resolve
// to the same merge key as identifying.
func (s *Service) GetByIdentity(ctx context.Context, tenantID, entityType string, identifying models.AttributeMap) (*models.Entity, error) {
	ctx, span := s.startSpan(ctx, "entity.get_by_identity", tenantID, attribute.String("entity_type", entityType))
	defer span.End()
	defer s.observe("get_by_identity", time.Now())

	if err := validateAttributes(identifying); err != nil {
		return nil, s.fail(ctx, span, "get_by_identity", err)
	}
	key, err := s.resolver.Resolve(ctx, tenantID, entityType, identifying)
	if err != nil {
		return nil, s.fail(ctx, span, "get_by_identity", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	doc, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, s.fail(ctx, span, "get_by_identity", err)
	}
	if doc.Live() == nil {
		return nil, s.fail(ctx, span, "get_by_identity", models.EntityNotFound(key.EntityID()))
	}
	span.SetAttributes(attribute.String("entity_id", doc.Entity.EntityID))
	return doc.Entity.Clone(), nil
}

// UpsertRelationships stores rels for the tenant in one transaction and
// returns how many distinct relationships it wrote. Relationships missing a
// type or an endpoint are skipped.
func (s *Service) UpsertRelationships(ctx context.Context, tenantID string, rels []models.Relationship) (int, error) {
	ctx, span := s.startSpan(ctx, "entity.upsert_relationships", tenantID, attribute.Int("relationships", len(rels)))
	defer span.End()
	defer s.observe("upsert_relationships", time.Now())

	if s.relationships == nil {
		return 0, s.fail(ctx, span, "upsert_relationships", errRelationshipsDisabled)
	}
	if tenantID == "" {
		return 0, s.fail(ctx, span, "upsert_relationships", dErrors.New(dErrors.CodeBadRequest, "tenant is required"))
	}
	if len(rels) == 0 {
		return 0, s.fail(ctx, span, "upsert_relationships", dErrors.New(dErrors.CodeBadRequest, "at least one relationship is required"))
	}
	if len(rels) > maxRelationshipItems {
		return 0, s.fail(ctx, span, "upsert_relationships",
			dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("at most %d relationships per request", maxRelationshipItems)))
	}

	now := s.now(ctx)
	batch := make([]*models.Relationship, 0, len(rels))
	seen := make(map[string]struct{}, len(rels))
	for _, r := range rels {
		if !r.Complete() {
			s.logger.WarnContext(ctx, "skipping incomplete relationship",
				"tenant_id", tenantID,
				"relationship_type", r.Type,
				"from_entity_id", r.FromEntityID,
				"to_entity_id", r.ToEntityID,
				"request_id", requestcontext.RequestID(ctx),
			)
			continue
		}
		rel := &models.Relationship{
			TenantID:     tenantID,
			Type:         r.Type,
			FromEntityID: r.FromEntityID,
			ToEntityID:   r.ToEntityID,
			CreatedTime:  now,
			UpdatedTime:  now,
		}
		if _, dup := seen[rel.Key()]; dup {
			continue
		}
		seen[rel.Key()] = struct{}{}
		batch = append(batch, rel)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	err := s.tx.RunInTx(opCtx, func(ctx context.Context) error {
		return s.relationships.UpsertRelationships(ctx, batch)
	})
	if err != nil {
		return 0, s.fail(ctx, span, "upsert_relationships", models.StorageUnavailable(err))
	}
	return len(batch), nil
}

// Relationships streams the tenant's relationships matching q. Each range
// re-runs the query.
func (s *Service) Relationships(ctx context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error] {
	return func(yield func(*models.Relationship, error) bool) {
		ctx, span := s.startSpan(ctx, "entity.relationships", q.TenantID)
		defer span.End()
		defer s.observe("relationships", time.Now())

		switch {
		case s.relationships == nil:
			yield(nil, s.fail(ctx, span, "relationships", errRelationshipsDisabled))
			return
		case q.TenantID == "":
			yield(nil, s.fail(ctx, span, "relationships", dErrors.New(dErrors.CodeBadRequest, "tenant is required")))
			return
		case q.Limit < 0:
			yield(nil, s.fail(ctx, span, "relationships", dErrors.New(dErrors.CodeBadRequest, "limit must not be negative")))
			return
		}
		for r, err := range s.relationships.QueryRelationships(ctx, q) {
			if err != nil {
				yield(nil, s.fail(ctx, span, "relationships", models.StorageUnavailable(err)))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}
