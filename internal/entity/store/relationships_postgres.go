package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"entitystore/internal/entity/models"
	txcontext "entitystore/pkg/platform/tx"
)

// PostgresRelationshipStore persists relationships in the entity_relationships
// table, keyed by (tenant_id, relationship_type, from_entity_id, to_entity_id).
type PostgresRelationshipStore struct {
	db *sql.DB
}

func NewPostgresRelationships(db *sql.DB) *PostgresRelationshipStore {
	return &PostgresRelationshipStore{db: db}
}

// UpsertRelationships writes rels in one statement. rels must not repeat a
// key. The write joins the transaction carried by ctx.
func (s *PostgresRelationshipStore) UpsertRelationships(ctx context.Context, rels []*models.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	var (
		tenants = make([]string, len(rels))
		types   = make([]string, len(rels))
		froms   = make([]string, len(rels))
		tos     = make([]string, len(rels))
		times   = make([]string, len(rels))
	)
	for i, r := range rels {
		tenants[i] = r.TenantID
		types[i] = r.Type
		froms[i] = r.FromEntityID
		tos[i] = r.ToEntityID
		times[i] = r.UpdatedTime.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO entity_relationships (
			tenant_id, relationship_type, from_entity_id, to_entity_id, created_at, updated_at
		)
		SELECT u.tenant_id, u.relationship_type, u.from_entity_id, u.to_entity_id, u.at, u.at
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[])
			AS u(tenant_id, relationship_type, from_entity_id, to_entity_id, at)
		ON CONFLICT (tenant_id, relationship_type, from_entity_id, to_entity_id)
		DO UPDATE SET updated_at = EXCLUDED.updated_at
	`
	_, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, query,
		pq.Array(tenants), pq.Array(types), pq.Array(froms), pq.Array(tos), pq.Array(times),
	)
	if err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}
	return nil
}

// QueryRelationships streams the relationships matching q ordered by type,
// source and target.
func (s *PostgresRelationshipStore) QueryRelationships(ctx context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error] {
	return func(yield func(*models.Relationship, error) bool) {
		clauses := []string{"tenant_id = $1"}
		args := []any{q.TenantID}
		in := func(column string, values []string) {
			if len(values) == 0 {
				return
			}
			args = append(args, pq.Array(values))
			clauses = append(clauses, column+" = ANY($"+strconv.Itoa(len(args))+"::text[])")
		}
		in("relationship_type", q.Types)
		in("from_entity_id", q.FromEntityIDs)
		in("to_entity_id", q.ToEntityIDs)

		query := `
			SELECT tenant_id, relationship_type, from_entity_id, to_entity_id, created_at, updated_at
			FROM entity_relationships
			WHERE ` + strings.Join(clauses, " AND ") + `
			ORDER BY relationship_type COLLATE "C", from_entity_id COLLATE "C", to_entity_id COLLATE "C"`
		if q.Limit > 0 {
			args = append(args, q.Limit)
			query += ` LIMIT $` + strconv.Itoa(len(args))
		}

		rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("query relationships: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r models.Relationship
			if err := rows.Scan(&r.TenantID, &r.Type, &r.FromEntityID, &r.ToEntityID, &r.CreatedTime, &r.UpdatedTime); err != nil {
				yield(nil, fmt.Errorf("scan relationship: %w", err))
				return
			}
			r.CreatedTime = r.CreatedTime.UTC()
			r.UpdatedTime = r.UpdatedTime.UTC()
			if !yield(&r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate relationships: %w", err))
		}
	}
}
