package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/job-platform/internal/adapter/httpserver"
	"github.com/fairyhunter13/job-platform/internal/config"
	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/status"
)

type stubIngest struct{}

func (stubIngest) Submit(domain.Context, domain.SubmitRequest) (string, bool, error) {
	return "job-1", true, nil
}

func TestBuildRouter_RequiresAuth(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000, AuthSigningSecret: "test-secret"}
	srv := httpserver.NewServer(cfg, stubIngest{}, status.New(nil), nil, nil, "default", nil, nil)
	tokens := httpserver.NewTokenManager(cfg)
	router := BuildRouter(cfg, srv, tokens)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{}`)))
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestBuildRouter_AuthedSubmit(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000, AuthSigningSecret: "test-secret"}
	srv := httpserver.NewServer(cfg, stubIngest{}, status.New(nil), nil, nil, "default", nil, nil)
	tokens := httpserver.NewTokenManager(cfg)
	router := BuildRouter(cfg, srv, tokens)

	token, err := tokens.IssueToken("user-1", "org-1", time.Minute)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"type": "cv.evaluate", "task_name": "evaluate"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)
	require.Equal(t, http.StatusCreated, rw.Code)
}

func TestBuildRouter_Readyz(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000}
	srv := httpserver.NewServer(cfg, stubIngest{}, status.New(nil), nil, nil, "default", nil, nil)
	tokens := httpserver.NewTokenManager(cfg)
	router := BuildRouter(cfg, srv, tokens)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
}
