package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL creates the ledger and outbox tables plus the indexes spec §6
// calls compatibility-critical: a unique index on job_key, a partial
// unique index on (org_id, idempotency_key), a partial index on
// outbox(created_at) restricted to pending rows, and a check constraint
// binding terminal statuses to a non-null finished_at.
//
// Migration tooling itself is out of scope per spec §1 ("DB migration
// tooling" is an external collaborator); this is a minimal idempotent
// bootstrapper, not a migration framework.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL,
	attempt          INT NOT NULL DEFAULT 0,
	max_attempts     INT NOT NULL DEFAULT 3,
	backoff_policy   TEXT NOT NULL DEFAULT 'none',
	priority         INT NOT NULL DEFAULT 0,
	idempotency_key  TEXT,
	job_key          TEXT NOT NULL,
	requested_by     TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ,
	last_error_code  TEXT,
	last_error_msg   TEXT,
	CONSTRAINT jobs_terminal_finished_ck CHECK (
		(status IN ('succeeded','failed','canceled','dead_letter') AND finished_at IS NOT NULL)
		OR
		(status NOT IN ('succeeded','failed','canceled','dead_letter') AND finished_at IS NULL)
	)
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_job_key_uk ON jobs (job_key);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_org_idemkey_uk ON jobs (org_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS jobs_org_status_idx ON jobs (org_id, status);
CREATE INDEX IF NOT EXISTS jobs_status_updated_idx ON jobs (status, updated_at);

CREATE TABLE IF NOT EXISTS job_events (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	ts          TIMESTAMPTZ NOT NULL,
	prev_status TEXT,
	next_status TEXT NOT NULL,
	detail      JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS job_events_job_ts_idx ON job_events (job_id, ts);

CREATE TABLE IF NOT EXISTS outbox (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	task_name   TEXT NOT NULL,
	payload     JSONB NOT NULL,
	sent_at     TIMESTAMPTZ,
	fail_count  INT NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS outbox_pending_created_idx ON outbox (created_at) WHERE sent_at IS NULL;
`

// EnsureSchema applies schemaDDL. It is safe to call on every process
// start; every statement is idempotent (IF NOT EXISTS / additive).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
