package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"entitystore/internal/entity/models"
	"entitystore/pkg/platform/sentinel"
)

// PostgresSource reads entity type schemas from the entity_types table.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Fetch prefers the tenant's own row over the root tenant's.
func (s *PostgresSource) Fetch(ctx context.Context, tenantID, entityType string) (*models.Schema, error) {
	query := `
		SELECT tenant_id, identifying_keys, attribute_types
		FROM entity_types
		WHERE entity_type = $1 AND tenant_id = ANY($2)
		ORDER BY (tenant_id = $3) DESC
		LIMIT 1
	`
	var (
		sc        = models.Schema{EntityType: entityType}
		keys      []string
		typesJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, entityType, pq.Array([]string{tenantID, models.RootTenant}), tenantID).
		Scan(&sc.TenantID, pq.Array(&keys), &typesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find schema %s: %w", entityType, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find schema %s: %w", entityType, err)
	}
	sc.IdentifyingKeys = keys
	if len(typesJSON) > 0 {
		if err := json.Unmarshal(typesJSON, &sc.AttributeTypes); err != nil {
			return nil, fmt.Errorf("decode attribute types of %s: %w", entityType, err)
		}
	}
	return &sc, nil
}

// Save inserts or replaces the schema row of (tenant, type).
func (s *PostgresSource) Save(ctx context.Context, sc *models.Schema) error {
	typesJSON, err := json.Marshal(sc.AttributeTypes)
	if err != nil {
		return fmt.Errorf("encode attribute types: %w", err)
	}
	query := `
		INSERT INTO entity_types (tenant_id, entity_type, identifying_keys, attribute_types, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, entity_type) DO UPDATE SET
			identifying_keys = EXCLUDED.identifying_keys,
			attribute_types = EXCLUDED.attribute_types,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, sc.TenantID, sc.EntityType, pq.Array(sc.IdentifyingKeys), typesJSON); err != nil {
		return fmt.Errorf("save schema %s: %w", sc.EntityType, err)
	}
	return nil
}
