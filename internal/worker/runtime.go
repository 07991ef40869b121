// Package worker implements the Worker Runtime (C7): it subscribes to
// the broker, dispatches deliveries to registered handlers by task name,
// and drives the ledger's state machine around each run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// Runtime binds a broker to a ledger and a handler registry, per
// spec §4.6.
type Runtime struct {
	Ledger     domain.LedgerStore
	Broker     domain.Broker
	Handlers   map[string]domain.Handler
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// New constructs a Runtime. Register handlers with Register before
// calling Run.
func New(ledger domain.LedgerStore, b domain.Broker, minBackoff, maxBackoff time.Duration) *Runtime {
	return &Runtime{Ledger: ledger, Broker: b, Handlers: map[string]domain.Handler{}, MinBackoff: minBackoff, MaxBackoff: maxBackoff}
}

// Register adds h to the dispatch table, keyed by h.Name(). Per spec §9's
// "Polymorphic handler registration", there is no inheritance: task_name
// is looked up in a flat map.
func (r *Runtime) Register(h domain.Handler) { r.Handlers[h.Name()] = h }

// Run subscribes to queue and processes every delivery through
// handleMessage. Broker.Subscribe blocks until ctx is canceled.
func (r *Runtime) Run(ctx domain.Context, queue string) error {
	return r.Broker.Subscribe(ctx, queue, r.handleMessage)
}

// handleMessage implements the worker execution protocol (spec §4.6):
// 1. look up the handler; a message for an unknown task name is logged and
//    acked without touching the ledger, so its job stays in its status.
// 2. terminal-state guard: a job already in a terminal state is acked
//    without rerunning the handler, giving exactly-once effect under
//    at-least-once delivery.
// 3. transition to running, invoke the handler, then transition to
//    succeeded/failed/dead_letter based on the result.
func (r *Runtime) handleMessage(ctx domain.Context, msg domain.Message) error {
	tracer := otel.Tracer("worker.Runtime")
	ctx, span := tracer.Start(ctx, "Runtime.handleMessage")
	defer span.End()
	span.SetAttributes(attribute.String("task_name", msg.TaskName), attribute.String("job.id", msg.JobID))

	handler, ok := r.Handlers[msg.TaskName]
	if !ok {
		slog.Error("no handler registered for task", slog.String("task_name", msg.TaskName), slog.String("job_id", msg.JobID))
		return nil // ack: redelivering to a missing handler can never succeed
	}

	job, err := r.Ledger.Get(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("op=worker.handle.get_job: %w", err)
	}
	if job.Status.IsTerminal() {
		slog.Info("skipping already-terminal job (duplicate delivery)",
			slog.String("job_id", msg.JobID), slog.String("status", string(job.Status)))
		return nil
	}

	if err := r.Ledger.Transition(ctx, domain.TransitionRequest{JobID: msg.JobID, NextStatus: domain.JobRunning}); err != nil {
		return fmt.Errorf("op=worker.handle.transition_running: %w", err)
	}

	reporter := &progressReporter{ledger: r.Ledger, jobID: msg.JobID}
	result, runErr := handler.Run(ctx, msg.JobID, msg.Payload, reporter)

	if runErr == nil {
		if err := r.Ledger.Transition(ctx, domain.TransitionRequest{JobID: msg.JobID, NextStatus: domain.JobSucceeded, Detail: map[string]any{"result": result}}); err != nil {
			return fmt.Errorf("op=worker.handle.transition_succeeded: %w", err)
		}
		return nil
	}

	errMsg := runErr.Error()
	var handlerErr *domain.HandlerError
	permanent := errors.As(runErr, &handlerErr) && handlerErr.Permanent

	if permanent {
		if err := r.Ledger.Transition(ctx, domain.TransitionRequest{JobID: msg.JobID, NextStatus: domain.JobFailed, ErrorMsg: &errMsg}); err != nil {
			return fmt.Errorf("op=worker.handle.transition_failed_permanent: %w", err)
		}
		return nil
	}

	if err := r.Ledger.Transition(ctx, domain.TransitionRequest{JobID: msg.JobID, NextStatus: domain.JobFailed, ErrorMsg: &errMsg}); err != nil {
		return fmt.Errorf("op=worker.handle.transition_failed: %w", err)
	}

	// The retry-queue transition runs in the background so backoff delay
	// never blocks the broker's poll loop (spec §4.6 step 6). The message
	// itself is acked now; its job is already durably "failed" and will
	// become "queued" (or "dead_letter") independently of this delivery.
	delay := domain.BackoffDelay(job.BackoffPolicy, job.Attempt, r.MinBackoff, r.MaxBackoff)
	go r.scheduleRetry(msg, delay)
	return nil
}

func (r *Runtime) scheduleRetry(msg domain.Message, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}
	retryPayload := make(map[string]any, len(msg.Payload)+1)
	for k, v := range msg.Payload {
		retryPayload[k] = v
	}
	retryPayload["job_id"] = msg.JobID

	ctx := context.Background()
	if err := r.Ledger.Transition(ctx, domain.TransitionRequest{
		JobID: msg.JobID, NextStatus: domain.JobQueued,
		RetryTaskName: msg.TaskName, RetryPayload: retryPayload,
	}); err != nil {
		slog.Error("failed to re-queue job after backoff", slog.String("job_id", msg.JobID), slog.Any("error", err))
	}
}

// progressReporter implements domain.ProgressReporter by emitting a
// same-status JobEvent with EmitEvent set.
type progressReporter struct {
	ledger domain.LedgerStore
	jobID  string
}

func (p *progressReporter) Report(ctx domain.Context, detail map[string]any) error {
	return p.ledger.Transition(ctx, domain.TransitionRequest{
		JobID: p.jobID, NextStatus: domain.JobRunning, Detail: detail, EmitEvent: true,
	})
}
