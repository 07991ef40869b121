package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// OutboxStore persists the pending-message queue co-located with the
// ledger, implementing domain.OutboxStore (C3).
type OutboxStore struct{ Pool PgxPool }

// NewOutboxStore constructs an OutboxStore with the given pool.
func NewOutboxStore(p PgxPool) *OutboxStore { return &OutboxStore{Pool: p} }

// Insert adds a pending row as a standalone statement on s.Pool; it does
// not join any caller's transaction. Job creation does not use it:
// LedgerStore.CreateIdempotent writes its outbox row itself, inside the
// transaction that inserts the job.
func (s *OutboxStore) Insert(ctx domain.Context, o domain.Outbox) (int64, error) {
	payloadJSON, err := json.Marshal(o.Payload)
	if err != nil {
		return 0, fmt.Errorf("op=outbox.insert.marshal: %w", err)
	}
	row := s.Pool.QueryRow(ctx, `INSERT INTO outbox (job_id, task_name, payload, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		o.JobID, o.TaskName, payloadJSON, time.Now().UTC())
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=outbox.insert: %w", err)
	}
	return id, nil
}

// txScoped adapts a live *pgx.Tx to domain.OutboxTx (MarkSent/
// MarkFailed), keeping every statement a
// Claim callback issues inside the same transaction that holds the
// row locks.
type txScoped struct {
	tx pgx.Tx
}

func (t *txScoped) MarkSent(ctx domain.Context, id int64, sentAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE outbox SET sent_at=$2 WHERE id=$1`, id, sentAt)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_sent: %w", err)
	}
	return nil
}

func (t *txScoped) MarkFailed(ctx domain.Context, id int64, lastError string) error {
	_, err := t.tx.Exec(ctx, `UPDATE outbox SET fail_count=fail_count+1, last_error=$2 WHERE id=$1`, id, lastError)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_failed: %w", err)
	}
	return nil
}

// Claim locks up to limit pending rows with FOR UPDATE SKIP LOCKED so
// concurrent dispatcher instances never contend for or double-publish
// the same row (spec §4.4), then runs fn with those rows and a tx-scoped
// handle for MarkSent/MarkFailed. The whole claim is one transaction:
// fn returning an error rolls every mark in it back, leaving the rows
// claimable again by the next poll.
func (s *OutboxStore) Claim(ctx domain.Context, limit int, fn func(tx domain.OutboxTx, rows []domain.Outbox) error) error {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.Claim")
	defer span.End()
	span.SetAttributes(attribute.Int("outbox.claim_limit", limit))

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=outbox.claim.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `SELECT id, job_id, task_name, payload, sent_at, fail_count, last_error, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return fmt.Errorf("op=outbox.claim.query: %w", err)
	}

	var claimed []domain.Outbox
	for rows.Next() {
		var o domain.Outbox
		var payloadJSON []byte
		if err := rows.Scan(&o.ID, &o.JobID, &o.TaskName, &payloadJSON, &o.SentAt, &o.FailCount, &o.LastError, &o.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("op=outbox.claim.scan: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &o.Payload); err != nil {
				rows.Close()
				return fmt.Errorf("op=outbox.claim.unmarshal: %w", err)
			}
		}
		claimed = append(claimed, o)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return fmt.Errorf("op=outbox.claim.rows: %w", rowsErr)
	}

	span.SetAttributes(attribute.Int("outbox.claimed", len(claimed)))
	if len(claimed) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("op=outbox.claim.commit_empty: %w", err)
		}
		committed = true
		return nil
	}

	if err := fn(&txScoped{tx: tx}, claimed); err != nil {
		return fmt.Errorf("op=outbox.claim.callback: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=outbox.claim.commit: %w", err)
	}
	committed = true
	return nil
}

// Sweep deletes sent rows older than olderThan. It never touches a row
// with sent_at IS NULL, so an in-flight or stuck publish is never lost
// to retention (spec §9's optional outbox retention sweeper).
func (s *OutboxStore) Sweep(ctx domain.Context, olderThan time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("op=outbox.sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
