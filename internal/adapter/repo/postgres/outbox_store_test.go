package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/job-platform/internal/domain"
)

func seedJob(t *testing.T, ledger *postgres.LedgerStore, id, jobKey string) {
	t.Helper()
	j := domain.Job{ID: id, OrgID: "org-a", Type: "embed", MaxAttempts: 3, BackoffPolicy: domain.BackoffNone, JobKey: jobKey}
	_, _, err := ledger.CreateIdempotent(context.Background(), j, nil, "embed.process", map[string]any{"seed": true})
	require.NoError(t, err)
}

func TestOutboxStore_ClaimSkipsLockedRows(t *testing.T) {
	pool := startPostgres(t)
	ledger := postgres.NewLedgerStore(pool)
	outbox := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	seedJob(t, ledger, "ob-1", "ob-1-key")
	seedJob(t, ledger, "ob-2", "ob-2-key")

	holdRelease := make(chan struct{})
	claimedInHolder := make(chan int, 1)
	go func() {
		_ = outbox.Claim(ctx, 1, func(tx domain.OutboxTx, rows []domain.Outbox) error {
			claimedInHolder <- len(rows)
			<-holdRelease
			return nil // rows stay unsent; the row lock just releases with the tx
		})
	}()
	require.Equal(t, 1, <-claimedInHolder)

	// A concurrent claim for the same single pending row must skip it and
	// see the other, still-unlocked row instead.
	var secondClaim []domain.Outbox
	require.NoError(t, outbox.Claim(ctx, 1, func(tx domain.OutboxTx, rows []domain.Outbox) error {
		secondClaim = rows
		return tx.MarkSent(ctx, rows[0].ID, time.Now().UTC())
	}))
	require.Len(t, secondClaim, 1)

	close(holdRelease)
	time.Sleep(50 * time.Millisecond)
}

func TestOutboxStore_Sweep_OnlyDeletesSentRows(t *testing.T) {
	pool := startPostgres(t)
	ledger := postgres.NewLedgerStore(pool)
	outbox := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	seedJob(t, ledger, "ob-3", "ob-3-key")

	require.NoError(t, outbox.Claim(ctx, 10, func(tx domain.OutboxTx, rows []domain.Outbox) error {
		for _, r := range rows {
			if err := tx.MarkSent(ctx, r.ID, time.Now().UTC()); err != nil {
				return err
			}
		}
		return nil
	}))

	deleted, err := outbox.Sweep(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining []domain.Outbox
	require.NoError(t, outbox.Claim(ctx, 10, func(tx domain.OutboxTx, rows []domain.Outbox) error {
		remaining = rows
		return nil
	}))
	require.Empty(t, remaining)
}
