package changeevent

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"entitystore/internal/entity/models"
	txcontext "entitystore/pkg/platform/tx"
)

// relayLockKey is the advisory lock id that elects the single active relay.
var relayLockKey = func() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("entitystore.entity_change_outbox.relay"))
	return int64(h.Sum64())
}()

// PostgresOutbox stores records in the entity_change_outbox table. Enqueue
// joins the transaction carried by ctx so the record commits with the write.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

func (o *PostgresOutbox) Enqueue(ctx context.Context, event *models.ChangeEvent) error {
	rec, err := newRecord(event)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO entity_change_outbox (partition_key, tenant_id, entity_type, event_type, sequence, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Conn(ctx, o.db).ExecContext(ctx, query,
		rec.PartitionKey, rec.TenantID, rec.EntityType, string(rec.EventType), rec.Sequence, rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock. fn runs inside that
// transaction, so its Pending and Mark calls commit together when fn returns.
func (o *PostgresOutbox) Lock(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin relay tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var acquired bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, relayLockKey).Scan(&acquired); err != nil {
		return fmt.Errorf("acquire relay lock: %w", err)
	}
	if !acquired {
		return ErrRelayLocked
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relay tx: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, partition_key, tenant_id, entity_type, event_type, sequence, payload, attempts, created_at
		FROM entity_change_outbox
		WHERE published_at IS NULL AND failed_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := txcontext.Conn(ctx, o.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			eventType string
		)
		if err := rows.Scan(&r.ID, &r.PartitionKey, &r.TenantID, &r.EntityType, &eventType,
			&r.Sequence, &r.Payload, &r.Attempts, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		r.EventType = models.EventType(eventType)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return out, nil
}

func (o *PostgresOutbox) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE entity_change_outbox SET published_at = $2, attempts = attempts + 1 WHERE id = $1`
	if _, err := txcontext.Conn(ctx, o.db).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark outbox record %d published: %w", id, err)
	}
	return nil
}

func (o *PostgresOutbox) RecordAttempts(ctx context.Context, id int64, attempts int, cause error) error {
	query := `UPDATE entity_change_outbox SET attempts = $2, last_error = $3 WHERE id = $1`
	if _, err := txcontext.Conn(ctx, o.db).ExecContext(ctx, query, id, attempts, errorText(cause)); err != nil {
		return fmt.Errorf("record outbox record %d attempts: %w", id, err)
	}
	return nil
}

func (o *PostgresOutbox) MarkFailed(ctx context.Context, id int64, attempts int, cause error, at time.Time) error {
	query := `UPDATE entity_change_outbox SET failed_at = $2, attempts = $3, last_error = $4 WHERE id = $1`
	if _, err := txcontext.Conn(ctx, o.db).ExecContext(ctx, query, id, at, attempts, errorText(cause)); err != nil {
		return fmt.Errorf("mark outbox record %d failed: %w", id, err)
	}
	return nil
}

func errorText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
