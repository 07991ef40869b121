package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/config"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestBuildReadinessChecks_DB(t *testing.T) {
	dbCheck, _ := BuildReadinessChecks(config.Config{}, nil)
	require.Error(t, dbCheck(context.Background()))

	dbCheck, _ = BuildReadinessChecks(config.Config{}, fakePinger{})
	require.NoError(t, dbCheck(context.Background()))

	dbCheck, _ = BuildReadinessChecks(config.Config{}, fakePinger{err: context.DeadlineExceeded})
	require.Error(t, dbCheck(context.Background()))
}

func TestBuildReadinessChecks_Qdrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("api-key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, qdrantCheck := BuildReadinessChecks(config.Config{QdrantURL: srv.URL, QdrantAPIKey: "test-key"}, nil)
	require.NoError(t, qdrantCheck(context.Background()))
}

func TestBuildReadinessChecks_QdrantFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, qdrantCheck := BuildReadinessChecks(config.Config{QdrantURL: srv.URL}, nil)
	require.Error(t, qdrantCheck(context.Background()))
}
