// Package httpserver contains HTTP handlers and middleware for the job
// platform's ingest/status/vector surface.
package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fairyhunter13/job-platform/internal/config"
	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/embedding"
	"github.com/fairyhunter13/job-platform/internal/status"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func validationErrors(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// Server aggregates the dependencies the ingest/status/vector HTTP surface
// needs to serve requests.
type Server struct {
	Cfg         config.Config
	Ingest      ingestService
	Status      status.Reader
	Embedder    embedding.Client
	VectorStore vectorstore.Store
	Collection  string
	DBCheck     func(ctx context.Context) error
	QdrantCheck func(ctx context.Context) error
}

// ingestService is the subset of ingest.Service the HTTP layer calls
// through, kept as a local interface so handlers stay unit-testable
// without wiring a real LedgerStore.
type ingestService interface {
	Submit(ctx domain.Context, req domain.SubmitRequest) (id string, created bool, err error)
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, ingest ingestService, statusReader status.Reader, embedder embedding.Client, store vectorstore.Store, collection string, dbCheck, qdrantCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:         cfg,
		Ingest:      ingest,
		Status:      statusReader,
		Embedder:    embedder,
		VectorStore: store,
		Collection:  collection,
		DBCheck:     dbCheck,
		QdrantCheck: qdrantCheck,
	}
}

type submitJobRequest struct {
	Type           string         `json:"type" validate:"required"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key" validate:"omitempty,max=200"`
	MaxAttempts    int            `json:"max_attempts" validate:"omitempty,min=1,max=50"`
	Priority       int            `json:"priority"`
	TaskName       string         `json:"task_name" validate:"required"`
}

// SubmitJobHandler implements POST /jobs: it decodes a job submission,
// binds it to the caller's org_id from the bearer token, and hands it to
// the Ingest Service. A resubmission under the same idempotency-relevant
// payload returns 200 instead of 201 (spec §7).
func (s *Server) SubmitJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, fmt.Errorf("%w: missing auth claims", domain.ErrForbidden), nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationErrors(err))
			return
		}

		id, created, err := s.Ingest.Submit(r.Context(), domain.SubmitRequest{
			OrgID:          claims.OrgID,
			Type:           req.Type,
			Payload:        req.Payload,
			RequestedBy:    claims.Subject,
			IdempotencyKey: req.IdempotencyKey,
			MaxAttempts:    req.MaxAttempts,
			Priority:       req.Priority,
			TaskName:       req.TaskName,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		httpStatus := http.StatusCreated
		if !created {
			httpStatus = http.StatusOK
		}
		writeJSON(w, httpStatus, map[string]any{"id": id, "status": string(domain.JobQueued), "created": created})
	}
}

// GetJobHandler implements GET /jobs/{id}: it returns the Status Reader's
// view of a job, scoped to the caller's org_id.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, fmt.Errorf("%w: missing auth claims", domain.ErrForbidden), nil)
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		view, err := s.Status.GetStatus(r.Context(), id, claims.OrgID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type embedJobRequest struct {
	AssetID   string `json:"asset_id" validate:"omitempty,max=200"`
	SegmentID string `json:"segment_id" validate:"omitempty,max=200"`
	Text      string `json:"text" validate:"required,max=100000"`
	Model     string `json:"model" validate:"omitempty,max=200"`
	ModelVer  string `json:"model_ver" validate:"omitempty,max=100"`
}

// SubmitEmbedJobHandler implements POST /vectors/embed: it submits a
// vector.embed job whose idempotency-relevant fields are the content hash
// plus model identity, so resubmitting unchanged text is a no-op.
func (s *Server) SubmitEmbedJobHandler() http.HandlerFunc {
	return s.submitVectorJob("vector.embed")
}

// SubmitMockEmbedJobHandler implements POST /vectors/mock: same shape as
// /vectors/embed but targets the deterministic mock embedder, useful for
// integration tests that can't reach a real embedding provider.
func (s *Server) SubmitMockEmbedJobHandler() http.HandlerFunc {
	return s.submitVectorJob("vector.mock")
}

func (s *Server) submitVectorJob(taskName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, fmt.Errorf("%w: missing auth claims", domain.ErrForbidden), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req embedJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationErrors(err))
			return
		}
		if req.AssetID == "" {
			req.AssetID = uuid.New().String()
		}

		sum := sha256.Sum256([]byte(req.Text))
		textHash := hex.EncodeToString(sum[:])

		payload := map[string]any{
			"asset_id":   req.AssetID,
			"segment_id": req.SegmentID,
			"text":       req.Text,
		}
		idemPayload := map[string]any{
			"asset_id":   req.AssetID,
			"segment_id": req.SegmentID,
			"text_hash":  textHash,
			"model":      req.Model,
			"model_ver":  req.ModelVer,
		}

		id, created, err := s.Ingest.Submit(r.Context(), domain.SubmitRequest{
			OrgID:       claims.OrgID,
			Type:        taskName,
			Payload:     payload,
			IdemPayload: idemPayload,
			RequestedBy: claims.Subject,
			TaskName:    taskName,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		st := http.StatusCreated
		if !created {
			st = http.StatusOK
		}
		writeJSON(w, st, map[string]any{"id": id, "status": string(domain.JobQueued), "created": created})
	}
}

type vectorSearchRequest struct {
	Text       string `json:"text" validate:"required,max=100000"`
	Collection string `json:"collection" validate:"omitempty,max=200"`
	TopK       int    `json:"top_k" validate:"omitempty,min=1,max=100"`
}

// SearchVectorsHandler implements POST /vectors/search: a synchronous,
// query-time read that bypasses the job core entirely — it embeds the
// query text and asks the vector store for nearest neighbors directly.
func (s *Server) SearchVectorsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			writeError(w, r, fmt.Errorf("%w: missing auth claims", domain.ErrForbidden), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req vectorSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationErrors(err))
			return
		}
		collection := req.Collection
		if collection == "" {
			collection = s.Collection
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 10
		}

		vec, err := s.Embedder.Embed(r.Context(), req.Text)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: embed: %v", domain.ErrTransientInfra, err), nil)
			return
		}
		matches, err := s.VectorStore.Search(r.Context(), collection, vec, topK)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: search: %v", domain.ErrTransientInfra, err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
	}
}

// ReadyzHandler probes DB and Qdrant dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.QdrantCheck != nil {
			if err := s.QdrantCheck(ctx); err != nil {
				checks = append(checks, check{Name: "qdrant", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "qdrant", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
