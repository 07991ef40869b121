// Package dispatcher implements the Outbox Dispatcher (C5): a ticker
// loop that claims pending outbox rows and publishes them to the broker.
package dispatcher

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// Dispatcher polls OutboxStore.Claim on a fixed interval and publishes
// each claimed row via Broker, marking it sent or failed within the same
// claiming transaction (spec §4.4).
type Dispatcher struct {
	Outbox   domain.OutboxStore
	Broker   domain.Broker
	Interval time.Duration
	BatchSize int
}

// New constructs a Dispatcher with sane defaults when interval or
// batchSize are left zero.
func New(outbox domain.OutboxStore, b domain.Broker, interval time.Duration, batchSize int) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{Outbox: outbox, Broker: b, Interval: interval, BatchSize: batchSize}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx domain.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox dispatcher stopping")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick claims up to BatchSize pending rows and publishes each. A publish
// failure marks that row failed (fail_count++) and leaves sent_at unset
// so the next tick retries it; it never blocks the rest of the batch.
func (d *Dispatcher) tick(ctx domain.Context) {
	tracer := otel.Tracer("dispatcher")
	ctx, span := tracer.Start(ctx, "Dispatcher.tick")
	defer span.End()

	err := d.Outbox.Claim(ctx, d.BatchSize, func(tx domain.OutboxTx, rows []domain.Outbox) error {
		span.SetAttributes(attribute.Int("outbox.claimed", len(rows)))
		sent, failed := 0, 0
		for _, row := range rows {
			if pubErr := d.Broker.Publish(ctx, row.TaskName, row.Payload); pubErr != nil {
				slog.Error("outbox publish failed, will retry next tick",
					slog.Int64("outbox_id", row.ID), slog.String("job_id", row.JobID), slog.Any("error", pubErr))
				if markErr := tx.MarkFailed(ctx, row.ID, pubErr.Error()); markErr != nil {
					return fmt.Errorf("op=dispatcher.tick.mark_failed: %w", markErr)
				}
				failed++
				continue
			}
			if markErr := tx.MarkSent(ctx, row.ID, time.Now().UTC()); markErr != nil {
				return fmt.Errorf("op=dispatcher.tick.mark_sent: %w", markErr)
			}
			sent++
		}
		span.SetAttributes(attribute.Int("outbox.sent", sent), attribute.Int("outbox.failed", failed))
		return nil
	})
	if err != nil {
		slog.Error("outbox dispatcher tick failed", slog.Any("error", err))
	}
}
