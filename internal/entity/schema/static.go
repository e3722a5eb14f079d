package schema

import (
	"context"
	"fmt"
	"sync"

	"entitystore/internal/entity/models"
	"entitystore/internal/platform/config"
	"entitystore/pkg/platform/sentinel"
)

// StaticSource serves schemas held in memory, seeded from configuration.
// It backs the memory deployment mode and tests.
type StaticSource struct {
	mu      sync.RWMutex
	schemas map[string]*models.Schema
}

func NewStaticSource(schemas ...*models.Schema) *StaticSource {
	s := &StaticSource{schemas: make(map[string]*models.Schema, len(schemas))}
	for _, sc := range schemas {
		s.schemas[cacheKey(sc.TenantID, sc.EntityType)] = sc
	}
	return s
}

// Fetch resolves the tenant's own schema first, then the root tenant's.
func (s *StaticSource) Fetch(_ context.Context, tenantID, entityType string) (*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range []string{tenantID, models.RootTenant} {
		if sc, ok := s.schemas[cacheKey(t, entityType)]; ok {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("find schema %s: %w", entityType, sentinel.ErrNotFound)
}

func (s *StaticSource) Save(_ context.Context, sc *models.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[cacheKey(sc.TenantID, sc.EntityType)] = sc
	return nil
}

// FromConfig converts schema definitions from configuration. An empty tenant
// means the root tenant and an empty kind accepts any kind.
func FromConfig(defs []config.SchemaDefinition) ([]*models.Schema, error) {
	out := make([]*models.Schema, 0, len(defs))
	for _, def := range defs {
		sc := &models.Schema{
			TenantID:        def.TenantID,
			EntityType:      def.EntityType,
			IdentifyingKeys: def.IdentifyingKeys,
			AttributeTypes:  make(map[string]models.AttributeType, len(def.Attributes)),
		}
		if sc.TenantID == "" {
			sc.TenantID = models.RootTenant
		}
		for name, attr := range def.Attributes {
			var kind models.Kind
			if attr.Kind != "" {
				k, err := models.ParseKind(attr.Kind)
				if err != nil {
					return nil, fmt.Errorf("schema %s attribute %s: %w", def.EntityType, name, err)
				}
				kind = k
			}
			sc.AttributeTypes[name] = models.AttributeType{Kind: kind, CaseInsensitive: attr.CaseInsensitive}
		}
		out = append(out, sc)
	}
	return out, nil
}
