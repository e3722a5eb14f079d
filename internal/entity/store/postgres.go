package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"entitystore/internal/entity/models"
	"entitystore/pkg/platform/sentinel"
	txcontext "entitystore/pkg/platform/tx"
)

// PostgresStore persists entity documents in the entities table. Attributes
// are JSONB in the Value envelope encoding; version is the compare-and-swap
// column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	tenant_id, merge_key, entity_id, entity_type, identifying_attributes, attributes,
	created_at, updated_at, version, deleted, deleted_at
`

// FindByKey returns the document for mergeKey, tombstones included.
func (s *PostgresStore) FindByKey(ctx context.Context, tenantID, mergeKey string) (*models.Document, error) {
	query := `SELECT ` + selectColumns + ` FROM entities WHERE tenant_id = $1 AND merge_key = $2`
	doc, err := scanDocument(txcontext.Conn(ctx, s.db).QueryRowContext(ctx, query, tenantID, mergeKey))
	if err != nil {
		return nil, fmt.Errorf("find entity by key: %w", err)
	}
	return doc, nil
}

// FindByID returns the document for entityID, tombstones included.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID, entityID string) (*models.Document, error) {
	query := `SELECT ` + selectColumns + ` FROM entities WHERE tenant_id = $1 AND entity_id = $2`
	doc, err := scanDocument(txcontext.Conn(ctx, s.db).QueryRowContext(ctx, query, tenantID, entityID))
	if err != nil {
		return nil, fmt.Errorf("find entity by id: %w", err)
	}
	return doc, nil
}

// Write inserts (expectedVersion 0) or updates doc. A lost race returns
// sentinel.ErrConflict. The write joins the transaction carried by ctx.
func (s *PostgresStore) Write(ctx context.Context, doc *models.Document, expectedVersion int64) error {
	identifying, err := json.Marshal(doc.Entity.IdentifyingAttributes)
	if err != nil {
		return fmt.Errorf("encode identifying attributes: %w", err)
	}
	attributes, err := json.Marshal(doc.Entity.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	conn := txcontext.Conn(ctx, s.db)
	var res sql.Result
	if expectedVersion == 0 {
		query := `
			INSERT INTO entities (
				tenant_id, merge_key, entity_id, entity_type, identifying_attributes, attributes,
				created_at, updated_at, version, deleted, deleted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING
		`
		res, err = conn.ExecContext(ctx, query,
			doc.Entity.TenantID, doc.MergeKey, doc.Entity.EntityID, doc.Entity.EntityType,
			identifying, attributes, doc.Entity.CreatedTime, doc.Entity.UpdatedTime,
			doc.Version, doc.Deleted, doc.DeletedAt,
		)
	} else {
		query := `
			UPDATE entities SET
				identifying_attributes = $3,
				attributes = $4,
				created_at = $5,
				updated_at = $6,
				version = $7,
				deleted = $8,
				deleted_at = $9
			WHERE tenant_id = $1 AND merge_key = $2 AND version = $10
		`
		res, err = conn.ExecContext(ctx, query,
			doc.Entity.TenantID, doc.MergeKey, identifying, attributes,
			doc.Entity.CreatedTime, doc.Entity.UpdatedTime, doc.Version, doc.Deleted, doc.DeletedAt,
			expectedVersion,
		)
	}
	if err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("write entity %s: %w", doc.Entity.EntityID, sentinel.ErrConflict)
		}
		return fmt.Errorf("write entity %s: %w", doc.Entity.EntityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write entity %s: %w", doc.Entity.EntityID, err)
	}
	if n == 0 {
		return fmt.Errorf("write entity %s at version %d: %w", doc.Entity.EntityID, expectedVersion, sentinel.ErrConflict)
	}
	return nil
}

// Query streams live entities matching q in q's order. Rows are read from the
// cursor as the caller ranges; nothing is buffered beyond the driver.
func (s *PostgresStore) Query(ctx context.Context, q models.Query) iter.Seq2[*models.Entity, error] {
	return func(yield func(*models.Entity, error) bool) {
		where, args, err := BuildFilter(q)
		if err != nil {
			yield(nil, fmt.Errorf("build entity filter: %w", err))
			return
		}
		orderBy, args := BuildOrderBy(q, args)
		query := `SELECT ` + selectColumns + ` FROM entities WHERE ` + where + ` ORDER BY ` + orderBy
		if q.Limit > 0 {
			args = append(args, q.Limit)
			query += ` LIMIT $` + strconv.Itoa(len(args))
		}
		if q.Offset > 0 {
			args = append(args, q.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}

		rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("query entities: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				yield(nil, fmt.Errorf("scan entity: %w", err))
				return
			}
			if !yield(&doc.Entity, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate entities: %w", err))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc         models.Document
		identifying []byte
		attributes  []byte
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&doc.Entity.TenantID, &doc.MergeKey, &doc.Entity.EntityID, &doc.Entity.EntityType,
		&identifying, &attributes, &doc.Entity.CreatedTime, &doc.Entity.UpdatedTime,
		&doc.Version, &doc.Deleted, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(identifying, &doc.Entity.IdentifyingAttributes); err != nil {
		return nil, fmt.Errorf("decode identifying attributes: %w", err)
	}
	if err := json.Unmarshal(attributes, &doc.Entity.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	doc.Entity.CreatedTime = doc.Entity.CreatedTime.UTC()
	doc.Entity.UpdatedTime = doc.Entity.UpdatedTime.UTC()
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		doc.DeletedAt = &t
	}
	return &doc, nil
}

// isSerializationFailure reports errors Postgres raises when two transactions
// race on the same row: serialization_failure and unique_violation.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "23505"
}

// BuildFilter translates q into a WHERE clause over the entities table and its
// positional arguments. Attribute paths address the Value envelope: "a.b"
// becomes attributes #> '{a,map,b}'.
func BuildFilter(q models.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	clauses := []string{"tenant_id = $1", "entity_type = $2", "NOT deleted"}
	args := []any{q.TenantID, q.EntityType}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	for _, p := range q.Predicates {
		target := "(attributes #> " + arg(pq.Array(jsonPath(p.Path))) + ")"
		switch p.Op {
		case models.OpExists:
			clauses = append(clauses, target+" IS NOT NULL")
		case models.OpEq, models.OpNeq:
			raw, err := json.Marshal(p.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode %s value: %w", p.Path, err)
			}
			if p.Op == models.OpEq {
				clauses = append(clauses, target+" = "+arg(string(raw))+"::jsonb")
			} else {
				clauses = append(clauses, "("+target+" IS NULL OR "+target+" <> "+arg(string(raw))+"::jsonb)")
			}
		case models.OpIn:
			values := make([]string, 0, len(p.Values))
			for _, v := range p.Values {
				raw, err := json.Marshal(v)
				if err != nil {
					return "", nil, fmt.Errorf("encode %s value: %w", p.Path, err)
				}
				values = append(values, string(raw))
			}
			clauses = append(clauses, target+" = ANY("+arg(pq.Array(values))+"::jsonb[])")
		case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
			expr, value, err := rangeOperand(target, p.Value)
			if err != nil {
				return "", nil, fmt.Errorf("predicate on %s: %w", p.Path, err)
			}
			clauses = append(clauses, expr+" "+sqlOperator(p.Op)+" "+arg(value))
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func jsonPath(path string) []string {
	parts := models.SplitPath(path)
	out := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			out = append(out, "map")
		}
		out = append(out, p)
	}
	return out
}

// BuildOrderBy renders q's ordering after the arguments BuildFilter produced.
// Missing attributes and values of another kind extract to NULL and sort last;
// entity_id breaks ties.
func BuildOrderBy(q models.Query, args []any) (string, []any) {
	terms := make([]string, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		args = append(args, pq.Array(jsonPath(o.Path)))
		expr, _ := typedOperand("(attributes #> $"+strconv.Itoa(len(args))+")", o.Kind)
		direction := "ASC"
		if o.Order == models.SortDesc {
			direction = "DESC"
		}
		terms = append(terms, expr+" "+direction+" NULLS LAST")
	}
	terms = append(terms, "entity_id")
	return strings.Join(terms, ", "), args
}

// typedOperand extracts the scalar of kind from the envelope at target.
func typedOperand(target string, kind models.Kind) (string, bool) {
	switch kind {
	case models.KindNumber:
		return "(" + target + " ->> 'number')::double precision", true
	case models.KindString:
		return "(" + target + ` ->> 'string') COLLATE "C"`, true
	case models.KindTimestamp:
		return "(" + target + " ->> 'timestamp')::timestamptz", true
	case models.KindBool:
		return "(" + target + " ->> 'bool')::boolean", true
	}
	return "", false
}

// rangeOperand extracts the typed scalar from the envelope. A value of another
// kind extracts to NULL and so never matches.
func rangeOperand(target string, v models.Value) (string, any, error) {
	var value any
	switch v.Kind() {
	case models.KindNumber:
		value, _ = v.Num()
	case models.KindString:
		value, _ = v.Str()
	case models.KindTimestamp:
		t, _ := v.Time()
		value = t.Format(time.RFC3339Nano)
	default:
		return "", nil, fmt.Errorf("range comparison on %s values is not supported", v.Kind())
	}
	expr, _ := typedOperand(target, v.Kind())
	return expr, value, nil
}

func sqlOperator(op models.Operator) string {
	switch op {
	case models.OpGt:
		return ">"
	case models.OpGte:
		return ">="
	case models.OpLt:
		return "<"
	default:
		return "<="
	}
}
