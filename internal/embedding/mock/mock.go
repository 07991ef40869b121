// Package mock implements a deterministic embedding.Client for offline
// development and tests: the same text always hashes to the same vector.
package mock

import (
	"context"
	"crypto/sha1" //nolint:gosec // used only as a deterministic PRNG seed, not for security
	"encoding/binary"
)

const defaultDims = 256

// Client deterministically derives a vector from the sha1 of its input,
// walked forward with a linear congruential generator.
type Client struct {
	dims int
}

// New constructs a Client producing vectors of dims dimensions, or
// defaultDims if dims <= 0.
func New(dims int) *Client {
	if dims <= 0 {
		dims = defaultDims
	}
	return &Client{dims: dims}
}

// Dims reports the vector dimensionality this client produces.
func (c *Client) Dims() int { return c.dims }

// Embed returns a deterministic vector for text with every component in
// [-1, 1]; the vector is not normalized to unit length.
func (c *Client) Embed(_ context.Context, text string) ([]float32, error) {
	h := sha1.Sum([]byte(text)) //nolint:gosec
	x := binary.BigEndian.Uint32(h[:4])
	const a = 1664525
	const cAdd = 1013904223
	vec := make([]float32, c.dims)
	for i := range vec {
		x = uint32(uint64(a)*uint64(x) + uint64(cAdd))
		v := float32(x) / float32(^uint32(0))
		vec[i] = 2*v - 1
	}
	return vec, nil
}
