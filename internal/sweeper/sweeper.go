// Package sweeper adapts the teacher's stuck-job heartbeat into the job
// platform's state machine: rather than writing status directly, it drives
// every stuck job through LedgerStore.Transition so the usual event log and
// invariants still apply.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// Sweeper periodically fails jobs stuck in "running" past a max age. It is
// a correctness backstop for crashed workers, not part of the core
// at-least-once delivery path, so it ships disabled by default.
type Sweeper struct {
	ledger   domain.LedgerStore
	maxAge   time.Duration
	interval time.Duration
	pageSize int
}

// New constructs a Sweeper. maxAge and interval fall back to sane defaults
// when zero.
func New(ledger domain.LedgerStore, maxAge, interval time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{ledger: ledger, maxAge: maxAge, interval: interval, pageSize: 100}
}

// Run blocks, sweeping on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.ledger == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("sweeper.Sweeper")
	ctx, span := tracer.Start(ctx, "sweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxAge)
	span.SetAttributes(attribute.Float64("sweeper.max_age_seconds", s.maxAge.Seconds()))

	stuck, err := s.ledger.ListStuck(ctx, domain.JobRunning, cutoff, s.pageSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("sweeper failed to list stuck jobs", slog.Any("error", err))
		return
	}

	marked := 0
	for _, j := range stuck {
		msg := fmt.Sprintf("job running exceeded maximum age %v; marked failed by sweeper", s.maxAge)
		req := domain.TransitionRequest{
			JobID:      j.ID,
			NextStatus: domain.JobFailed,
			ErrorMsg:   &msg,
			Detail:     map[string]any{"reason": "sweeper_timeout"},
		}
		if err := s.ledger.Transition(ctx, req); err != nil {
			span.RecordError(err)
			slog.Error("sweeper failed to transition stuck job", slog.String("job_id", j.ID), slog.Any("error", err))
			continue
		}
		marked++
	}
	span.SetAttributes(
		attribute.Int("sweeper.total_checked", len(stuck)),
		attribute.Int("sweeper.total_marked_failed", marked),
	)
}
