// Package vectorstore defines the pluggable VectorStore port the
// embedding worker handlers upsert into and /vectors/search reads from
// directly, bypassing the job core (spec §6.3).
package vectorstore

import "context"

// Point is a single embedded vector plus its metadata payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is a single search hit, ranked by similarity.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store is the port a worker handler upserts through and a search
// endpoint reads through. Collections are created lazily by EnsureCollection.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dims int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
	Ping(ctx context.Context) error
}
