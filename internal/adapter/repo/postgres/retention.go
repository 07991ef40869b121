package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// RetentionService periodically sweeps sent outbox rows, the optional
// retention job mentioned in spec §9. It never touches the jobs or
// job_events tables — the ledger itself is retained indefinitely since
// it is the audit trail, only the transport-layer outbox queue churns.
type RetentionService struct {
	Outbox   domain.OutboxStore
	MaxAge   time.Duration
	Interval time.Duration
}

// NewRetentionService constructs a RetentionService with sane defaults
// when MaxAge or Interval are left zero.
func NewRetentionService(outbox domain.OutboxStore, maxAge, interval time.Duration) *RetentionService {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionService{Outbox: outbox, MaxAge: maxAge, Interval: interval}
}

// SweepOnce deletes sent outbox rows older than MaxAge.
func (s *RetentionService) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.MaxAge)
	deleted, err := s.Outbox.Sweep(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("op=retention.sweep: %w", err)
	}
	slog.Info("outbox retention sweep completed",
		slog.Int64("deleted_rows", deleted),
		slog.Time("cutoff", cutoff))
	return nil
}

// Run sweeps on Interval until ctx is canceled.
func (s *RetentionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	if err := s.SweepOnce(ctx); err != nil {
		slog.Error("initial outbox retention sweep failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox retention sweeper stopping")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				slog.Error("periodic outbox retention sweep failed", slog.Any("error", err))
			}
		}
	}
}
