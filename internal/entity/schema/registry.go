package schema

import (
	"context"
	"fmt"
	"strings"

	"entitystore/internal/entity/models"
	dErrors "entitystore/pkg/domain-errors"
)

// Registry serves schema reads through the cache and writes to the backing
// store, invalidating the cached entry once the write lands.
type Registry struct {
	store Store
	cache *Cache
}

func NewRegistry(store Store, cache *Cache) *Registry {
	return &Registry{store: store, cache: cache}
}

func (r *Registry) SchemaFor(ctx context.Context, tenantID, entityType string) (*models.Schema, error) {
	return r.cache.SchemaFor(ctx, tenantID, entityType)
}

// Save validates and persists sc. Reads that hit the cache before the
// invalidation may still observe the previous schema.
func (r *Registry) Save(ctx context.Context, sc *models.Schema) error {
	if err := Validate(sc); err != nil {
		return err
	}
	if err := r.store.Save(ctx, sc); err != nil {
		return models.SchemaUnavailable(sc.EntityType, fmt.Errorf("save schema: %w", err))
	}
	r.cache.Invalidate(sc.TenantID, sc.EntityType)
	return nil
}

// Validate checks that a schema can drive identity resolution.
func Validate(sc *models.Schema) error {
	if sc == nil {
		return dErrors.New(dErrors.CodeValidation, "schema is required")
	}
	if strings.TrimSpace(sc.TenantID) == "" {
		return dErrors.New(dErrors.CodeValidation, "schema tenant is required")
	}
	if strings.TrimSpace(sc.EntityType) == "" {
		return dErrors.New(dErrors.CodeValidation, "schema entity type is required")
	}
	if len(sc.IdentifyingKeys) == 0 {
		return dErrors.New(dErrors.CodeValidation, "schema needs at least one identifying key")
	}
	seen := make(map[string]struct{}, len(sc.IdentifyingKeys))
	for _, key := range sc.IdentifyingKeys {
		if strings.TrimSpace(key) == "" || strings.Contains(key, ".") {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid identifying key %q", key))
		}
		if _, dup := seen[key]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate identifying key %q", key))
		}
		seen[key] = struct{}{}
		if t, ok := sc.AttributeTypes[key]; ok && t.Kind == models.KindMap {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("identifying key %q cannot hold a map", key))
		}
	}
	return nil
}
