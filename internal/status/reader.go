// Package status implements the Status Reader (C8): a read-only,
// tenant-scoped projection of ledger state for polling clients.
package status

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// externalStatus maps internal JobStatus values onto the stable external
// vocabulary clients poll against (spec §4.7).
var externalStatus = map[domain.JobStatus]string{
	domain.JobQueued:     "pending",
	domain.JobRunning:    "processing",
	domain.JobSucceeded:  "completed",
	domain.JobFailed:     "failed",
	domain.JobCanceled:   "canceled",
	domain.JobDeadLetter: "failed",
}

// Reader reads Job and JobEvent rows and composes the externally exposed
// StatusView.
type Reader struct {
	Ledger domain.LedgerStore
	// LegacyVocabulary selects the external pending/processing/completed
	// vocabulary (STATUS_VOCABULARY_MODE=legacy) instead of exposing the
	// internal queued/running/succeeded status names directly.
	LegacyVocabulary bool
}

// New constructs a Reader using the external (legacy) vocabulary.
func New(ledger domain.LedgerStore) Reader {
	return Reader{Ledger: ledger, LegacyVocabulary: true}
}

// NewWithMode constructs a Reader honoring STATUS_VOCABULARY_MODE:
// "legacy" maps to the external pending/processing/completed vocabulary,
// anything else (including "internal") exposes JobStatus values as-is.
func NewWithMode(ledger domain.LedgerStore, mode string) Reader {
	return Reader{Ledger: ledger, LegacyVocabulary: mode == "legacy"}
}

// GetStatus implements get_status(job_id, caller_org_id) -> View (spec
// §4.7): reads the Job row, rejects cross-tenant access with
// ErrForbidden, and composes the view from the latest JobEvent's detail.
func (r Reader) GetStatus(ctx domain.Context, jobID, callerOrgID string) (domain.StatusView, error) {
	tracer := otel.Tracer("status.Reader")
	ctx, span := tracer.Start(ctx, "Reader.GetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := r.Ledger.Get(ctx, jobID)
	if err != nil {
		return domain.StatusView{}, fmt.Errorf("op=status.get_status.get_job: %w", err)
	}
	if job.OrgID != callerOrgID {
		return domain.StatusView{}, domain.ErrForbidden
	}

	statusStr := string(job.Status)
	if r.LegacyVocabulary {
		statusStr = externalStatus[job.Status]
	}
	view := domain.StatusView{
		ID:        job.ID,
		Status:    statusStr,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.LastErrorMsg != nil {
		view.Error = *job.LastErrorMsg
	}

	event, err := r.Ledger.LatestEvent(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.StatusView{}, fmt.Errorf("op=status.get_status.latest_event: %w", err)
	}
	if err == nil {
		if stage, ok := event.Detail["stage"].(string); ok {
			view.Stage = stage
		}
		if progress, ok := event.Detail["progress"].(float64); ok {
			view.Progress = progress
		}
		if result, ok := event.Detail["result"].(map[string]any); ok {
			view.Result = result
		}
	}

	return view, nil
}
