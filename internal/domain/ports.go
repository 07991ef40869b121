package domain

import "time"

// LedgerStore is the Job Ledger Store port (C2): durable job records plus
// an append-only event log, enforcing the state machine and idempotent
// creation described in spec §4.2.
type LedgerStore interface {
	// CreateIdempotent inserts a job keyed on JobKey together with its
	// initial JobEvent and outbox row in one transaction — the
	// transactional-outbox write spec §4.1 requires. On a unique-constraint
	// collision against job_key it returns the existing job's id and
	// created=false, writing neither the event nor a second outbox row,
	// per spec §4.2's idempotent-creation rule.
	CreateIdempotent(ctx Context, j Job, initialDetail map[string]any, outboxTaskName string, outboxPayload map[string]any) (id string, created bool, err error)

	// Transition applies a status change under row-level locking, writing a
	// JobEvent unless the change is a same-status progress update without
	// EmitEvent. Returns ErrInvalidStateTransition for any pair not in the
	// §4.2 diagram.
	Transition(ctx Context, req TransitionRequest) error

	// Get loads a job by id, regardless of tenant (callers enforce scoping).
	Get(ctx Context, id string) (Job, error)

	// LatestEvent returns the most recent JobEvent for a job, the source of
	// truth for stage/progress/result per spec §9.
	LatestEvent(ctx Context, jobID string) (JobEvent, error)

	// ListEvents returns a job's event log in ts order (ascending).
	ListEvents(ctx Context, jobID string) ([]JobEvent, error)

	// ListStuck returns non-terminal jobs whose updated_at is before cutoff,
	// used by the optional sweeper (spec §9 open question on cancellation/
	// heartbeat).
	ListStuck(ctx Context, status JobStatus, cutoff time.Time, limit int) ([]Job, error)
}

// OutboxStore is the Outbox Store port (C3): the durable queue of pending
// broker messages, co-located with the ledger (spec §4.3/§4.4).
type OutboxStore interface {
	// Insert adds a pending outbox row on its own, outside any job-creation
	// transaction; LedgerStore.CreateIdempotent writes the outbox row for a
	// newly created job itself, in the same transaction as the job.
	Insert(ctx Context, o Outbox) (int64, error)

	// Claim locks up to limit pending rows ordered by created_at using
	// skip-locked semantics (spec §4.4), returning them for publish.
	// The caller must call MarkSent or MarkFailed for every claimed row
	// within the same transaction used to claim it.
	Claim(ctx Context, limit int, fn func(tx OutboxTx, rows []Outbox) error) error

	// Sweep deletes sent rows older than olderThan, the optional retention
	// sweeper mentioned in spec §9; it never touches unsent rows.
	Sweep(ctx Context, olderThan time.Time) (int64, error)
}

// OutboxTx scopes the mutations a Claim callback may perform against the
// rows it was handed, keeping MarkSent/MarkFailed inside the claiming
// transaction.
type OutboxTx interface {
	MarkSent(ctx Context, id int64, sentAt time.Time) error
	MarkFailed(ctx Context, id int64, lastError string) error
}

// Broker is the thin transport abstraction (C6, spec §4.5). Publish may
// fail; the dispatcher treats any error as retryable. Subscribe delivers
// at-least-once; Ack/Nack are driven by the worker runtime after a
// handler resolves.
type Broker interface {
	Publish(ctx Context, taskName string, payload map[string]any) error
	Subscribe(ctx Context, queue string, handler func(ctx Context, msg Message) error) error
	Close() error
}

// Message is a broker delivery handed to the Worker Runtime (C7).
type Message struct {
	TaskName string
	JobID    string
	Payload  map[string]any
	Attempt  int
}

// Handler is the polymorphic unit of work the Worker Runtime dispatches
// to by task_name (spec §9 "Polymorphic handler registration").
type Handler interface {
	Name() string
	Run(ctx Context, jobID string, payload map[string]any, progress ProgressReporter) (result map[string]any, err error)
}

// ProgressReporter lets a handler emit stage/progress JobEvents without a
// status change, per spec §4.6 step 3.
type ProgressReporter interface {
	Report(ctx Context, detail map[string]any) error
}

// HandlerError classifies a handler failure as permanent (non-retryable,
// spec §4.6 step 5) or not (step 6, counted against attempt).
type HandlerError struct {
	Permanent bool
	Err       error
}

func (e *HandlerError) Error() string { return e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as a non-retryable handler failure.
func NewPermanentError(err error) error { return &HandlerError{Permanent: true, Err: err} }

// NewTransientError wraps err as a retryable handler failure.
func NewTransientError(err error) error { return &HandlerError{Permanent: false, Err: err} }
