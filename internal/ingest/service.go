// Package ingest implements the Ingest Service (C4): the public entry
// point that binds job creation and outbox enqueue into one commit.
package ingest

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	obsctx "github.com/fairyhunter13/job-platform/internal/observability"

	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/jobkey"
)

// Service accepts SubmitRequests and turns each into a durable Job plus
// its first outbox row, atomically, via LedgerStore (spec §4.3).
type Service struct {
	Ledger domain.LedgerStore
}

// New constructs a Service with the given ledger.
func New(ledger domain.LedgerStore) Service {
	return Service{Ledger: ledger}
}

// Submit computes the job key, then delegates to LedgerStore.CreateIdempotent
// so the job row, its initial JobEvent, and its outbox row land in one
// transaction. A resubmission whose (org, type, idempotency-relevant
// payload) already exists returns the prior job's id, created=false —
// callers surface this as 200 instead of 201 (spec §7).
func (s Service) Submit(ctx domain.Context, req domain.SubmitRequest) (id string, created bool, err error) {
	tracer := otel.Tracer("ingest.Service")
	ctx, span := tracer.Start(ctx, "ingest.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	if req.OrgID == "" || req.Type == "" || req.TaskName == "" {
		return "", false, fmt.Errorf("op=ingest.submit: org_id, type, and task_name are required: %w", domain.ErrInvalidArgument)
	}

	idemPayload := req.IdemPayload
	if idemPayload == nil {
		idemPayload = req.Payload
	}
	key := jobkey.Compute(req.OrgID, req.Type, idemPayload)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffPolicy := req.BackoffPolicy
	if backoffPolicy == "" {
		backoffPolicy = domain.BackoffExponential
	}

	j := domain.Job{
		ID:             uuid.New().String(),
		OrgID:          req.OrgID,
		Type:           req.Type,
		MaxAttempts:    maxAttempts,
		BackoffPolicy:  backoffPolicy,
		Priority:       req.Priority,
		RequestedBy:    req.RequestedBy,
		JobKey:         key,
		IdempotencyKey: nonEmptyPtr(req.IdempotencyKey),
	}

	outboxPayload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		outboxPayload[k] = v
	}
	outboxPayload["job_id"] = j.ID

	id, created, err = s.Ledger.CreateIdempotent(ctx, j, map[string]any{"requested_by": req.RequestedBy}, req.TaskName, outboxPayload)
	if err != nil {
		lg.Error("job submission failed", slog.String("org_id", req.OrgID), slog.String("type", req.Type), slog.Any("error", err))
		return "", false, fmt.Errorf("op=ingest.submit: %w", err)
	}

	lg.Info("job submitted",
		slog.String("job_id", id),
		slog.String("org_id", req.OrgID),
		slog.String("type", req.Type),
		slog.Bool("created", created))
	return id, created, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
