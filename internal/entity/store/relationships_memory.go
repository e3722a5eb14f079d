package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"entitystore/internal/entity/models"
	txcontext "entitystore/pkg/platform/tx"
)

// InMemoryRelationshipStore keeps relationships in process memory.
type InMemoryRelationshipStore struct {
	mu    sync.RWMutex
	edges map[string]*models.Relationship
}

func NewInMemoryRelationships() *InMemoryRelationshipStore {
	return &InMemoryRelationshipStore{edges: make(map[string]*models.Relationship)}
}

// UpsertRelationships stores rels. An edge that already exists keeps its
// CreatedTime and takes the new UpdatedTime.
func (s *InMemoryRelationshipStore) UpsertRelationships(ctx context.Context, rels []*models.Relationship) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[string]*models.Relationship, len(rels))
	for _, r := range rels {
		key := r.Key()
		stored := *r
		if cur, ok := s.edges[key]; ok {
			stored.CreatedTime = cur.CreatedTime
			if _, seen := previous[key]; !seen {
				previous[key] = cur
			}
		} else if _, seen := previous[key]; !seen {
			previous[key] = nil
		}
		s.edges[key] = &stored
	}

	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for key, prev := range previous {
			if prev == nil {
				delete(s.edges, key)
				continue
			}
			s.edges[key] = prev
		}
	})
	return nil
}

// QueryRelationships yields the relationships matching q ordered by type,
// source and target.
func (s *InMemoryRelationshipStore) QueryRelationships(ctx context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error] {
	return func(yield func(*models.Relationship, error) bool) {
		s.mu.RLock()
		matched := make([]*models.Relationship, 0)
		for _, r := range s.edges {
			if q.Matches(r) {
				matched = append(matched, r)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(matched, func(a, b *models.Relationship) int { return a.Compare(b) })

		for i, r := range matched {
			if q.Limit > 0 && i >= q.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, fmt.Errorf("query relationships: %w", err))
				return
			}
			cp := *r
			if !yield(&cp, nil) {
				return
			}
		}
	}
}
