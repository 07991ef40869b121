package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/status"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
)

type fakeIngest struct {
	id      string
	created bool
	err     error
	lastReq domain.SubmitRequest
}

func (f *fakeIngest) Submit(_ domain.Context, req domain.SubmitRequest) (string, bool, error) {
	f.lastReq = req
	return f.id, f.created, f.err
}

type fakeLedgerForStatus struct{ job domain.Job }

func (f fakeLedgerForStatus) CreateIdempotent(domain.Context, domain.Job, map[string]any, string, map[string]any) (string, bool, error) {
	return "", false, nil
}
func (f fakeLedgerForStatus) Transition(domain.Context, domain.TransitionRequest) error { return nil }
func (f fakeLedgerForStatus) Get(_ domain.Context, id string) (domain.Job, error) {
	if id != f.job.ID {
		return domain.Job{}, domain.ErrNotFound
	}
	return f.job, nil
}
func (f fakeLedgerForStatus) LatestEvent(domain.Context, string) (domain.JobEvent, error) {
	return domain.JobEvent{}, domain.ErrNotFound
}
func (f fakeLedgerForStatus) ListEvents(domain.Context, string) ([]domain.JobEvent, error) {
	return nil, nil
}
func (f fakeLedgerForStatus) ListStuck(domain.Context, domain.JobStatus, time.Time, int) ([]domain.Job, error) {
	return nil, nil
}

type fakeEmbedderH struct{ dims int }

func (f fakeEmbedderH) Dims() int { return f.dims }
func (f fakeEmbedderH) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

type fakeStoreH struct{ matches []vectorstore.Match }

func (f *fakeStoreH) EnsureCollection(context.Context, string, int) error { return nil }
func (f *fakeStoreH) Upsert(context.Context, string, []vectorstore.Point) error { return nil }
func (f *fakeStoreH) Search(context.Context, string, []float32, int) ([]vectorstore.Match, error) {
	return f.matches, nil
}
func (f *fakeStoreH) Ping(context.Context) error { return nil }

func withClaims(r *http.Request, orgID string) *http.Request {
	claims := Claims{Subject: "user-1", OrgID: orgID}
	ctx := context.WithValue(r.Context(), claimsKey{}, claims)
	return r.WithContext(ctx)
}

func TestSubmitJobHandler_Success(t *testing.T) {
	ingest := &fakeIngest{id: "job-1", created: true}
	s := &Server{Ingest: ingest}

	body, _ := json.Marshal(map[string]any{"type": "cv.evaluate", "task_name": "evaluate", "payload": map[string]any{"x": 1}})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req = withClaims(req, "org-1")
	rw := httptest.NewRecorder()

	s.SubmitJobHandler()(rw, req)
	require.Equal(t, http.StatusCreated, rw.Code)
	require.Equal(t, "org-1", ingest.lastReq.OrgID)
}

func TestSubmitJobHandler_MissingClaims(t *testing.T) {
	s := &Server{Ingest: &fakeIngest{}}
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{}`)))
	rw := httptest.NewRecorder()
	s.SubmitJobHandler()(rw, req)
	require.Equal(t, http.StatusForbidden, rw.Code)
}

func TestSubmitJobHandler_ValidationFailure(t *testing.T) {
	s := &Server{Ingest: &fakeIngest{}}
	body, _ := json.Marshal(map[string]any{"type": ""})
	req := withClaims(httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body)), "org-1")
	rw := httptest.NewRecorder()
	s.SubmitJobHandler()(rw, req)
	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetJobHandler_CrossTenantForbidden(t *testing.T) {
	ledger := fakeLedgerForStatus{job: domain.Job{ID: "job-1", OrgID: "org-1", Status: domain.JobSucceeded}}
	s := &Server{Status: status.New(ledger)}

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	req = withClaims(req, "org-2")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "job-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rw := httptest.NewRecorder()

	s.GetJobHandler()(rw, req)
	require.Equal(t, http.StatusForbidden, rw.Code)
}

func TestSearchVectorsHandler_Success(t *testing.T) {
	store := &fakeStoreH{matches: []vectorstore.Match{{ID: "a", Score: 0.9}}}
	s := &Server{Embedder: fakeEmbedderH{dims: 4}, VectorStore: store, Collection: "default"}

	body, _ := json.Marshal(map[string]any{"text": "hello"})
	req := withClaims(httptest.NewRequest(http.MethodPost, "/vectors/search", bytes.NewReader(body)), "org-1")
	rw := httptest.NewRecorder()

	s.SearchVectorsHandler()(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestReadyzHandler_AllOK(t *testing.T) {
	s := &Server{
		DBCheck:     func(context.Context) error { return nil },
		QdrantCheck: func(context.Context) error { return nil },
	}
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rw := httptest.NewRecorder()
	s.ReadyzHandler()(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
}
