package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/dispatcher"
	"github.com/fairyhunter13/job-platform/internal/domain"
)

type fakeOutbox struct {
	mu      sync.Mutex
	pending []domain.Outbox
	sent    []int64
	failed  map[int64]string
}

func newFakeOutbox(rows ...domain.Outbox) *fakeOutbox {
	return &fakeOutbox{pending: rows, failed: map[int64]string{}}
}

func (f *fakeOutbox) Insert(domain.Context, domain.Outbox) (int64, error) { return 0, nil }

func (f *fakeOutbox) Claim(ctx domain.Context, limit int, fn func(tx domain.OutboxTx, rows []domain.Outbox) error) error {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return fn(f, batch)
}

func (f *fakeOutbox) Sweep(domain.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeOutbox) MarkSent(_ domain.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ domain.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = lastError
	return nil
}

type fakeBroker struct {
	failIDs map[string]bool
	mu      sync.Mutex
	published []string
}

func (b *fakeBroker) Publish(_ domain.Context, taskName string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, taskName)
	if jobID, _ := payload["job_id"].(string); b.failIDs[jobID] {
		return errors.New("broker unavailable")
	}
	return nil
}
func (b *fakeBroker) Subscribe(domain.Context, string, func(domain.Context, domain.Message) error) error {
	return nil
}
func (b *fakeBroker) Close() error { return nil }

func TestDispatcher_PublishesAndMarksSent(t *testing.T) {
	outbox := newFakeOutbox(
		domain.Outbox{ID: 1, JobID: "job-1", TaskName: "embed.process", Payload: map[string]any{"job_id": "job-1"}},
		domain.Outbox{ID: 2, JobID: "job-2", TaskName: "embed.process", Payload: map[string]any{"job_id": "job-2"}},
	)
	b := &fakeBroker{failIDs: map[string]bool{"job-2": true}}
	d := dispatcher.New(outbox, b, 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Contains(t, outbox.sent, int64(1))
	require.Contains(t, outbox.failed, int64(2))
}
