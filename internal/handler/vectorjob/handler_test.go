package vectorjob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/handler/vectorjob"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
)

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Dims() int { return f.dims }
func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

type fakeStore struct {
	ensured bool
	points  []string
}

func (f *fakeStore) EnsureCollection(context.Context, string, int) error { f.ensured = true; return nil }
func (f *fakeStore) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	for _, p := range points {
		f.points = append(f.points, p.ID)
	}
	return nil
}
func (f *fakeStore) Search(context.Context, string, []float32, int) ([]vectorstore.Match, error) {
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type noopProgress struct{}

func (noopProgress) Report(domain.Context, map[string]any) error { return nil }

func TestHandler_EmbedsAndUpserts(t *testing.T) {
	store := &fakeStore{}
	h := vectorjob.New("vector.embed", fakeEmbedder{dims: 8}, store, "default")

	result, err := h.Run(context.Background(), "job-1", map[string]any{"text": "hello", "asset_id": "asset-1"}, noopProgress{})
	require.NoError(t, err)
	require.True(t, store.ensured)
	require.Contains(t, store.points, "asset-1")
	require.Equal(t, "default", result["collection"])
}

func TestHandler_MissingTextIsPermanentError(t *testing.T) {
	store := &fakeStore{}
	h := vectorjob.New("vector.embed", fakeEmbedder{dims: 8}, store, "default")

	_, err := h.Run(context.Background(), "job-2", map[string]any{}, noopProgress{})
	require.Error(t, err)
	var handlerErr *domain.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	require.True(t, handlerErr.Permanent)
}
