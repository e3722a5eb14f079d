package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"entitystore/internal/entity/models"
	"entitystore/pkg/platform/sentinel"
	txcontext "entitystore/pkg/platform/tx"
)

// InMemoryStore keeps entity documents in process memory. Documents are
// replaced, never mutated, on write, so readers can hold them without locks.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*models.Document
	byID  map[string]string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byKey: make(map[string]*models.Document),
		byID:  make(map[string]string),
	}
}

func idKey(tenantID, entityID string) string {
	return tenantID + "\x00" + entityID
}

// FindByKey returns the document for mergeKey, tombstones included.
func (s *InMemoryStore) FindByKey(_ context.Context, tenantID, mergeKey string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byKey[mergeKey]
	if !ok || doc.Entity.TenantID != tenantID {
		return nil, fmt.Errorf("find entity by key: %w", sentinel.ErrNotFound)
	}
	return doc, nil
}

// FindByID returns the document for entityID, tombstones included.
func (s *InMemoryStore) FindByID(_ context.Context, tenantID, entityID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[idKey(tenantID, entityID)]
	if !ok {
		return nil, fmt.Errorf("find entity by id: %w", sentinel.ErrNotFound)
	}
	return s.byKey[key], nil
}

// Write stores doc if the current version equals expectedVersion. Zero means
// the document must not exist yet.
func (s *InMemoryStore) Write(ctx context.Context, doc *models.Document, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write entity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	prev, existed := s.byKey[doc.MergeKey]
	if existed {
		current = prev.Version
	}
	if current != expectedVersion {
		return fmt.Errorf("write entity %s at version %d, found %d: %w",
			doc.Entity.EntityID, expectedVersion, current, sentinel.ErrConflict)
	}

	stored := *doc
	stored.Entity = *doc.Entity.Clone()
	id := idKey(doc.Entity.TenantID, doc.Entity.EntityID)
	s.byKey[doc.MergeKey] = &stored
	s.byID[id] = doc.MergeKey

	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.byKey[doc.MergeKey] = prev
			return
		}
		delete(s.byKey, doc.MergeKey)
		delete(s.byID, id)
	})
	return nil
}

// Query yields live entities matching q in q's order. Each range takes a
// fresh snapshot of the matching documents.
func (s *InMemoryStore) Query(ctx context.Context, q models.Query) iter.Seq2[*models.Entity, error] {
	return func(yield func(*models.Entity, error) bool) {
		s.mu.RLock()
		matched := make([]*models.Document, 0)
		for _, doc := range s.byKey {
			if !doc.Deleted && q.Matches(&doc.Entity) {
				matched = append(matched, doc)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(matched, func(a, b *models.Document) int {
			return q.Compare(&a.Entity, &b.Entity)
		})
		matched = matched[min(q.Offset, len(matched)):]

		for i, doc := range matched {
			if q.Limit > 0 && i >= q.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, fmt.Errorf("query entities: %w", err))
				return
			}
			if !yield(doc.Entity.Clone(), nil) {
				return
			}
		}
	}
}

// MemoryTx serialises write transactions against the in-memory stores. When fn
// fails, every write it made through the journaled ctx is undone, so a document
// is never left committed without its outbox record.
type MemoryTx struct {
	mu sync.Mutex
}

func (t *MemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, ok := txcontext.JournalFrom(ctx); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	journal := &txcontext.Journal{}
	if err := fn(txcontext.WithJournal(ctx, journal)); err != nil {
		journal.Rollback()
		return err
	}
	return nil
}
