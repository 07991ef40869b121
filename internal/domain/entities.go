// Package domain defines the core entities, ports, and error taxonomy of
// the job ledger and outbox.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). HTTP and broker adapters map these onto
// transport-specific codes; the ledger and dispatcher never leak
// transport concerns back into domain errors.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTransientInfra        = errors.New("transient infrastructure error")
	ErrHandlerFailure        = errors.New("handler failure")
	ErrInternal              = errors.New("internal error")
)

// Context aliases stdlib context.Context so domain signatures read cleanly
// without importing "context" everywhere adapters are wired.
type Context = context.Context

// JobStatus is the lifecycle state of a job, per spec §4.2.
type JobStatus string

// Job status values. Terminal states are succeeded, failed, canceled, and
// dead_letter.
const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
	JobDeadLetter JobStatus = "dead_letter"
)

// IsTerminal reports whether status is a terminal one. Of these, only
// failed has outgoing transitions (to queued for a retry, or to
// dead_letter); the others never transition further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled, JobDeadLetter:
		return true
	default:
		return false
	}
}

// BackoffPolicy selects how the worker computes delay before a queued retry.
type BackoffPolicy string

const (
	BackoffNone        BackoffPolicy = "none"
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffExponential BackoffPolicy = "exponential"
)

// Job is one record per logical async task (spec §3).
type Job struct {
	ID             string
	OrgID          string
	Type           string
	Status         JobStatus
	Attempt        int
	MaxAttempts    int
	BackoffPolicy  BackoffPolicy
	Priority       int
	IdempotencyKey *string
	JobKey         string
	RequestedBy    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LastErrorCode  *string
	LastErrorMsg   *string
}

// JobEvent is an immutable append-only audit entry (spec §3).
type JobEvent struct {
	ID         string
	JobID      string
	TS         time.Time
	PrevStatus *JobStatus
	NextStatus JobStatus
	Detail     map[string]any
}

// Outbox is a pending message row co-located with the ledger (spec §3).
type Outbox struct {
	ID        int64
	JobID     string
	TaskName  string
	Payload   map[string]any
	SentAt    *time.Time
	FailCount int
	LastError *string
	CreatedAt time.Time
}

// StatusView is the externally-exposed projection the Status Reader (C8)
// returns to polling clients.
type StatusView struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Stage     string         `json:"stage,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SubmitRequest is the input to the Ingest Service's Submit operation
// (spec §4.3).
type SubmitRequest struct {
	OrgID          string
	Type           string
	Payload        map[string]any
	IdemPayload    map[string]any // subset of Payload that is idempotency-relevant
	RequestedBy    string
	IdempotencyKey string
	MaxAttempts    int
	BackoffPolicy  BackoffPolicy
	Priority       int
	TaskName       string
}

// TransitionRequest describes a requested ledger mutation (spec §4.2).
type TransitionRequest struct {
	JobID      string
	NextStatus JobStatus
	Detail     map[string]any
	ErrorCode  *string
	ErrorMsg   *string
	// EmitEvent forces a JobEvent row even when NextStatus equals the
	// current status (a progress-only update). Same-status writes without
	// EmitEvent update only the job row (updated_at and error fields) and
	// write no event, so their Detail is not stored (see ledger store).
	EmitEvent bool

	// RetryTaskName and RetryPayload re-enqueue an outbox row in the same
	// transaction as a failed->queued transition, so a retried job gets
	// redispatched without a second round trip. Ignored for any other
	// transition.
	RetryTaskName string
	RetryPayload  map[string]any
}
