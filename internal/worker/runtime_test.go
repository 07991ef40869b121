package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/worker"
)

type fakeLedger struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeLedger(jobs ...domain.Job) *fakeLedger {
	m := map[string]domain.Job{}
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeLedger{jobs: m}
}

func (f *fakeLedger) CreateIdempotent(domain.Context, domain.Job, map[string]any, string, map[string]any) (string, bool, error) {
	return "", false, nil
}

func (f *fakeLedger) Transition(_ domain.Context, req domain.TransitionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[req.JobID]
	next := req.NextStatus
	if j.Status == domain.JobFailed && next == domain.JobQueued && domain.RequiresDeadLetter(j.Attempt, j.MaxAttempts) {
		next = domain.JobDeadLetter
	}
	if !domain.ValidTransition(j.Status, next) {
		return domain.ErrInvalidStateTransition
	}
	if next == domain.JobRunning {
		j.Attempt++
	}
	j.Status = next
	f.jobs[req.JobID] = j
	return nil
}

func (f *fakeLedger) Get(_ domain.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeLedger) LatestEvent(domain.Context, string) (domain.JobEvent, error) {
	return domain.JobEvent{}, nil
}
func (f *fakeLedger) ListEvents(domain.Context, string) ([]domain.JobEvent, error) { return nil, nil }
func (f *fakeLedger) ListStuck(domain.Context, domain.JobStatus, time.Time, int) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeLedger) statusOf(id string) domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

type fakeHandler struct {
	name string
	run  func(ctx domain.Context, jobID string, payload map[string]any, p domain.ProgressReporter) (map[string]any, error)
}

func (h *fakeHandler) Name() string { return h.name }
func (h *fakeHandler) Run(ctx domain.Context, jobID string, payload map[string]any, p domain.ProgressReporter) (map[string]any, error) {
	return h.run(ctx, jobID, payload, p)
}

func TestRuntime_SucceedsTransitionsToSucceeded(t *testing.T) {
	ledger := newFakeLedger(domain.Job{ID: "job-1", Status: domain.JobQueued, MaxAttempts: 3})
	r := worker.New(ledger, nil, 0, 0)
	r.Register(&fakeHandler{name: "embed.process", run: func(domain.Context, string, map[string]any, domain.ProgressReporter) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}})

	err := callHandle(r, domain.Message{TaskName: "embed.process", JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, domain.JobSucceeded, ledger.statusOf("job-1"))
}

func TestRuntime_TerminalStateGuardSkipsDuplicateDelivery(t *testing.T) {
	ledger := newFakeLedger(domain.Job{ID: "job-2", Status: domain.JobSucceeded, MaxAttempts: 3})
	called := false
	r := worker.New(ledger, nil, 0, 0)
	r.Register(&fakeHandler{name: "embed.process", run: func(domain.Context, string, map[string]any, domain.ProgressReporter) (map[string]any, error) {
		called = true
		return nil, nil
	}})

	err := callHandle(r, domain.Message{TaskName: "embed.process", JobID: "job-2"})
	require.NoError(t, err)
	require.False(t, called, "handler must not rerun for an already-terminal job")
}

func TestRuntime_PermanentFailureStaysFailed(t *testing.T) {
	ledger := newFakeLedger(domain.Job{ID: "job-3", Status: domain.JobQueued, MaxAttempts: 3})
	r := worker.New(ledger, nil, 0, 0)
	r.Register(&fakeHandler{name: "embed.process", run: func(domain.Context, string, map[string]any, domain.ProgressReporter) (map[string]any, error) {
		return nil, domain.NewPermanentError(assertErr)
	}})

	err := callHandle(r, domain.Message{TaskName: "embed.process", JobID: "job-3"})
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, ledger.statusOf("job-3"))
}

func TestRuntime_TransientFailureEventuallyRequeues(t *testing.T) {
	ledger := newFakeLedger(domain.Job{ID: "job-4", Status: domain.JobQueued, MaxAttempts: 3})
	r := worker.New(ledger, nil, time.Millisecond, 2*time.Millisecond)
	r.Register(&fakeHandler{name: "embed.process", run: func(domain.Context, string, map[string]any, domain.ProgressReporter) (map[string]any, error) {
		return nil, domain.NewTransientError(assertErr)
	}})

	err := callHandle(r, domain.Message{TaskName: "embed.process", JobID: "job-4"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ledger.statusOf("job-4") == domain.JobQueued
	}, time.Second, 5*time.Millisecond)
}

func TestRuntime_UnknownTaskNameIsAcked(t *testing.T) {
	ledger := newFakeLedger(domain.Job{ID: "job-5", Status: domain.JobQueued, MaxAttempts: 3})
	r := worker.New(ledger, nil, 0, 0)
	err := callHandle(r, domain.Message{TaskName: "no.such.task", JobID: "job-5"})
	require.NoError(t, err)
	require.Equal(t, domain.JobQueued, ledger.statusOf("job-5"))
}

var assertErr = context.DeadlineExceeded

// callHandle reaches the unexported handler via Run against a broker
// stub that invokes the handler exactly once with msg, since
// handleMessage itself is private to the package's Subscribe wiring.
func callHandle(r *worker.Runtime, msg domain.Message) error {
	return (&singleMessageBroker{msg: msg}).deliverVia(r)
}

type singleMessageBroker struct{ msg domain.Message }

func (b *singleMessageBroker) deliverVia(r *worker.Runtime) error {
	r.Broker = &onceBroker{msg: b.msg}
	return r.Run(context.Background(), "embed.process")
}

type onceBroker struct{ msg domain.Message }

func (b *onceBroker) Publish(domain.Context, string, map[string]any) error { return nil }
func (b *onceBroker) Subscribe(ctx domain.Context, _ string, handler func(domain.Context, domain.Message) error) error {
	return handler(ctx, b.msg)
}
func (b *onceBroker) Close() error { return nil }
