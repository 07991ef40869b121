// Package postgres provides PostgreSQL adapters for the job ledger and
// outbox (C2/C3), built on a minimal pgx pool/tx abstraction.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// LedgerStore persists jobs and their event log using a pgx pool,
// implementing domain.LedgerStore (C2).
type LedgerStore struct{ Pool PgxPool }

// NewLedgerStore constructs a LedgerStore with the given pool.
func NewLedgerStore(p PgxPool) *LedgerStore { return &LedgerStore{Pool: p} }

// CreateIdempotent inserts a job, its initial JobEvent, and its outbox
// row inside one transaction — the transactional-outbox write. On a
// unique_violation against jobs_job_key_uk it looks up and returns the
// existing row, created=false, writing neither the event nor the outbox
// row, per spec §4.2's idempotent-creation rule.
func (s *LedgerStore) CreateIdempotent(ctx domain.Context, j domain.Job, initialDetail map[string]any, outboxTaskName string, outboxPayload map[string]any) (string, bool, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.CreateIdempotent")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "jobs"))

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", false, fmt.Errorf("op=ledger.create.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	q := `INSERT INTO jobs (id, org_id, type, status, attempt, max_attempts, backoff_policy, priority,
		idempotency_key, job_key, requested_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = tx.Exec(ctx, q, j.ID, j.OrgID, j.Type, domain.JobQueued, 0, j.MaxAttempts, j.BackoffPolicy, j.Priority,
		j.IdempotencyKey, j.JobKey, j.RequestedBy, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existingID, lookupErr := s.getIDByJobKey(ctx, j.JobKey)
			if lookupErr != nil {
				return "", false, fmt.Errorf("op=ledger.create.lookup_existing: %w", lookupErr)
			}
			return existingID, false, nil
		}
		return "", false, fmt.Errorf("op=ledger.create.insert: %w", err)
	}

	evID := ulid.Make().String()
	detailJSON, err := json.Marshal(initialDetail)
	if err != nil {
		return "", false, fmt.Errorf("op=ledger.create.marshal_detail: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO job_events (id, job_id, ts, prev_status, next_status, detail) VALUES ($1,$2,$3,NULL,$4,$5)`,
		evID, j.ID, now, domain.JobQueued, detailJSON)
	if err != nil {
		return "", false, fmt.Errorf("op=ledger.create.insert_event: %w", err)
	}

	outboxPayloadJSON, err := json.Marshal(outboxPayload)
	if err != nil {
		return "", false, fmt.Errorf("op=ledger.create.marshal_outbox_payload: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO outbox (job_id, task_name, payload, created_at) VALUES ($1,$2,$3,$4)`,
		j.ID, outboxTaskName, outboxPayloadJSON, now)
	if err != nil {
		return "", false, fmt.Errorf("op=ledger.create.insert_outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("op=ledger.create.commit: %w", err)
	}
	committed = true
	return j.ID, true, nil
}

func (s *LedgerStore) getIDByJobKey(ctx domain.Context, jobKey string) (string, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id FROM jobs WHERE job_key=$1`, jobKey)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("op=ledger.get_by_jobkey: %w", domain.ErrNotFound)
		}
		return "", err
	}
	return id, nil
}

// Transition applies a status change to a job under row-level locking
// (SELECT ... FOR UPDATE inside a transaction), per spec §4.2's
// concurrency discipline: read current status, apply transition, write,
// all within one transaction.
func (s *LedgerStore) Transition(ctx domain.Context, req domain.TransitionRequest) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("job.next_status", string(req.NextStatus)),
	)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=ledger.transition.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var cur domain.Job
	var idem *string
	row := tx.QueryRow(ctx, `SELECT status, attempt, max_attempts FROM jobs WHERE id=$1 FOR UPDATE`, req.JobID)
	if err := row.Scan(&cur.Status, &cur.Attempt, &cur.MaxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=ledger.transition.lock: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=ledger.transition.lock: %w", err)
	}
	_ = idem

	// attempt counts runs started, not retries requested: it increments
	// when a job enters running, so RequiresDeadLetter can compare the
	// attempt that just failed against max_attempts directly.
	next := req.NextStatus
	if cur.Status == domain.JobFailed && next == domain.JobQueued && domain.RequiresDeadLetter(cur.Attempt, cur.MaxAttempts) {
		next = domain.JobDeadLetter
	}

	if !domain.ValidTransition(cur.Status, next) {
		slog.Warn("rejected invalid state transition",
			slog.String("job_id", req.JobID), slog.String("from", string(cur.Status)), slog.String("to", string(next)))
		return fmt.Errorf("op=ledger.transition: %s -> %s: %w", cur.Status, next, domain.ErrInvalidStateTransition)
	}

	now := time.Now().UTC()
	attempt := cur.Attempt
	if next == domain.JobRunning && cur.Status != domain.JobRunning {
		attempt++
	}

	setStarted := next == domain.JobRunning
	setFinished := next.IsTerminal()

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status=$2, attempt=$3, updated_at=$4,
			started_at = CASE WHEN $5 AND started_at IS NULL THEN $4 ELSE started_at END,
			finished_at = CASE WHEN $6 THEN $4 ELSE NULL END,
			last_error_code = $7, last_error_msg = $8
		WHERE id=$1`,
		req.JobID, next, attempt, now, setStarted, setFinished, req.ErrorCode, req.ErrorMsg)
	if err != nil {
		return fmt.Errorf("op=ledger.transition.update: %w", err)
	}

	if cur.Status == domain.JobFailed && next == domain.JobQueued && req.RetryTaskName != "" {
		retryPayloadJSON, merr := json.Marshal(req.RetryPayload)
		if merr != nil {
			return fmt.Errorf("op=ledger.transition.marshal_retry_payload: %w", merr)
		}
		_, err = tx.Exec(ctx, `INSERT INTO outbox (job_id, task_name, payload, created_at) VALUES ($1,$2,$3,$4)`,
			req.JobID, req.RetryTaskName, retryPayloadJSON, now)
		if err != nil {
			return fmt.Errorf("op=ledger.transition.insert_retry_outbox: %w", err)
		}
	}

	// A same-status call without EmitEvent is a progress-only update
	// already applied above (finished_at/error columns); it leaves no
	// JobEvent row.
	if next != cur.Status || req.EmitEvent {
		evID := ulid.Make().String()
		detail := req.Detail
		if detail == nil {
			detail = map[string]any{}
		}
		detailJSON, merr := json.Marshal(detail)
		if merr != nil {
			return fmt.Errorf("op=ledger.transition.marshal_detail: %w", merr)
		}
		prev := cur.Status
		_, err = tx.Exec(ctx, `INSERT INTO job_events (id, job_id, ts, prev_status, next_status, detail) VALUES ($1,$2,$3,$4,$5,$6)`,
			evID, req.JobID, now, prev, next, detailJSON)
		if err != nil {
			return fmt.Errorf("op=ledger.transition.insert_event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=ledger.transition.commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads a job by id.
func (s *LedgerStore) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Get")
	defer span.End()

	q := `SELECT id, org_id, type, status, attempt, max_attempts, backoff_policy, priority, idempotency_key,
		job_key, requested_by, created_at, updated_at, started_at, finished_at, last_error_code, last_error_msg
		FROM jobs WHERE id=$1`
	row := s.Pool.QueryRow(ctx, q, id)
	var j domain.Job
	if err := row.Scan(&j.ID, &j.OrgID, &j.Type, &j.Status, &j.Attempt, &j.MaxAttempts, &j.BackoffPolicy, &j.Priority,
		&j.IdempotencyKey, &j.JobKey, &j.RequestedBy, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
		&j.LastErrorCode, &j.LastErrorMsg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=ledger.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=ledger.get: %w", err)
	}
	return j, nil
}

// LatestEvent returns the most recent JobEvent for a job.
func (s *LedgerStore) LatestEvent(ctx domain.Context, jobID string) (domain.JobEvent, error) {
	q := `SELECT id, job_id, ts, prev_status, next_status, detail FROM job_events WHERE job_id=$1 ORDER BY ts DESC LIMIT 1`
	row := s.Pool.QueryRow(ctx, q, jobID)
	var e domain.JobEvent
	var detailJSON []byte
	if err := row.Scan(&e.ID, &e.JobID, &e.TS, &e.PrevStatus, &e.NextStatus, &detailJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobEvent{}, fmt.Errorf("op=ledger.latest_event: %w", domain.ErrNotFound)
		}
		return domain.JobEvent{}, fmt.Errorf("op=ledger.latest_event: %w", err)
	}
	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return domain.JobEvent{}, fmt.Errorf("op=ledger.latest_event.unmarshal: %w", err)
		}
	}
	return e, nil
}

// ListEvents returns a job's event log ordered by ts ascending — a total
// order per job, per spec §3.
func (s *LedgerStore) ListEvents(ctx domain.Context, jobID string) ([]domain.JobEvent, error) {
	q := `SELECT id, job_id, ts, prev_status, next_status, detail FROM job_events WHERE job_id=$1 ORDER BY ts ASC`
	rows, err := s.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=ledger.list_events: %w", err)
	}
	defer rows.Close()

	var out []domain.JobEvent
	for rows.Next() {
		var e domain.JobEvent
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.TS, &e.PrevStatus, &e.NextStatus, &detailJSON); err != nil {
			return nil, fmt.Errorf("op=ledger.list_events.scan: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("op=ledger.list_events.unmarshal: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=ledger.list_events.rows: %w", err)
	}
	return out, nil
}

// ListStuck returns non-terminal jobs in status older than cutoff,
// backing the optional sweeper (spec §9).
func (s *LedgerStore) ListStuck(ctx domain.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error) {
	q := `SELECT id, org_id, type, status, attempt, max_attempts, backoff_policy, priority, idempotency_key,
		job_key, requested_by, created_at, updated_at, started_at, finished_at, last_error_code, last_error_msg
		FROM jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := s.Pool.Query(ctx, q, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=ledger.list_stuck: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.OrgID, &j.Type, &j.Status, &j.Attempt, &j.MaxAttempts, &j.BackoffPolicy, &j.Priority,
			&j.IdempotencyKey, &j.JobKey, &j.RequestedBy, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
			&j.LastErrorCode, &j.LastErrorMsg); err != nil {
			return nil, fmt.Errorf("op=ledger.list_stuck.scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
