// Package vectorjob implements the worker handlers backing the embedding
// surface of spec §6.3: vector.embed and vector.mock both embed text and
// upsert the result into the vector store through the same Handler type;
// each Handler calls the embedding.Client it is constructed with (the
// worker binary currently gives both task names the same mock client).
package vectorjob

import (
	"fmt"

	"github.com/fairyhunter13/job-platform/internal/domain"
	"github.com/fairyhunter13/job-platform/internal/embedding"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
)

// Handler embeds payload["text"] and upserts it into the vector store
// collection payload["collection"], keyed by payload["asset_id"].
type Handler struct {
	taskName   string
	Embedder   embedding.Client
	Store      vectorstore.Store
	Collection string
}

// New constructs a Handler registered under taskName ("vector.embed" or
// "vector.mock").
func New(taskName string, embedder embedding.Client, store vectorstore.Store, collection string) *Handler {
	return &Handler{taskName: taskName, Embedder: embedder, Store: store, Collection: collection}
}

// Name satisfies domain.Handler.
func (h *Handler) Name() string { return h.taskName }

// Run satisfies domain.Handler.
func (h *Handler) Run(ctx domain.Context, jobID string, payload map[string]any, progress domain.ProgressReporter) (map[string]any, error) {
	text, _ := payload["text"].(string)
	if text == "" {
		return nil, domain.NewPermanentError(fmt.Errorf("op=vectorjob.run: payload.text is required"))
	}
	assetID, _ := payload["asset_id"].(string)
	if assetID == "" {
		assetID = jobID
	}
	collection, _ := payload["collection"].(string)
	if collection == "" {
		collection = h.Collection
	}

	if err := progress.Report(ctx, map[string]any{"stage": "embedding", "progress": 0.3}); err != nil {
		return nil, fmt.Errorf("op=vectorjob.run.report_embedding: %w", err)
	}

	vec, err := h.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("op=vectorjob.run.embed: %w", err))
	}

	if err := h.Store.EnsureCollection(ctx, collection, h.Embedder.Dims()); err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("op=vectorjob.run.ensure_collection: %w", err))
	}

	if err := progress.Report(ctx, map[string]any{"stage": "upserting", "progress": 0.8}); err != nil {
		return nil, fmt.Errorf("op=vectorjob.run.report_upserting: %w", err)
	}

	point := vectorstore.Point{
		ID:      assetID,
		Vector:  vec,
		Payload: map[string]any{"job_id": jobID, "asset_id": assetID},
	}
	if segmentID, ok := payload["segment_id"].(string); ok && segmentID != "" {
		point.Payload["segment_id"] = segmentID
	}
	if err := h.Store.Upsert(ctx, collection, []vectorstore.Point{point}); err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("op=vectorjob.run.upsert: %w", err))
	}

	return map[string]any{"collection": collection, "asset_id": assetID, "dims": h.Embedder.Dims()}, nil
}
