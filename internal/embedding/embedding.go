// Package embedding defines the pluggable embedding-model port the
// vector.embed worker handler calls, per spec §6.3.
package embedding

import "context"

// Client turns text into a fixed-dimension vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}
