// Package vq implements the vector-quantization bottleneck: a learnable
// codebook, hard nearest-neighbor assignment and the gradient rules used to
// train through it.
//
// # Gradient routing
//
// The nearest-neighbor lookup has no useful derivative, so three losses are
// defined over one forward result, each with its own detached inputs:
//
//	reconstruction  MSE(x̃, x)              → decoder, then copied onto z_e (straight-through) → encoder
//	codebook        MSE(z_q, sg(z_e))       → codebook rows only
//	commitment      λ·MSE(sg(z_q), z_e)     → encoder only
//
// The functions in this package compute each contribution explicitly; the
// trainer decides the order in which they are applied.
package vq

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/hupe1980/vqgo/distance"
	"github.com/hupe1980/vqgo/internal/kmeans"
	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/tensor"
)

// ParamName is the name of the codebook parameter in checkpoints.
const ParamName = "codebook.weight"

// Codebook is a table of K learnable D-dimensional vectors.
type Codebook struct {
	k, d   int
	weight *nn.Param
}

// NewCodebook creates a K×D codebook initialized uniformly in [-1/K, 1/K].
func NewCodebook(k, d int, rng *rand.Rand) (*Codebook, error) {
	if k <= 0 || d <= 0 {
		return nil, fmt.Errorf("vq: invalid codebook size %dx%d", k, d)
	}
	cb := &Codebook{
		k:      k,
		d:      d,
		weight: nn.NewParam(ParamName, k, d),
	}
	bound := 1 / float32(k)
	for i := range cb.weight.Value.Data() {
		cb.weight.Value.Data()[i] = (rng.Float32()*2 - 1) * bound
	}
	return cb, nil
}

// NewCodebookFromRows builds a codebook with the given rows. It is mainly
// useful for tests and for restoring a known table.
func NewCodebookFromRows(rows [][]float32) (*Codebook, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("vq: empty codebook")
	}
	k, d := len(rows), len(rows[0])
	cb := &Codebook{k: k, d: d, weight: nn.NewParam(ParamName, k, d)}
	data := cb.weight.Value.Data()
	for i, r := range rows {
		if len(r) != d {
			return nil, &tensor.ErrShapeMismatch{Op: "NewCodebookFromRows", Expected: []int{d}, Actual: []int{len(r)}}
		}
		copy(data[i*d:], r)
	}
	return cb, nil
}

// K returns the number of codebook entries.
func (c *Codebook) K() int { return c.k }

// D returns the dimensionality of each entry.
func (c *Codebook) D() int { return c.d }

// Param returns the learnable (K, D) weight.
func (c *Codebook) Param() *nn.Param { return c.weight }

// All returns the full (K, D) table. The returned tensor shares storage with
// the codebook and must be treated as read-only.
func (c *Codebook) All() *tensor.Tensor { return c.weight.Value }

// Row returns entry i as a (D,) slice sharing storage with the codebook.
// It panics if i is outside [0, K): indices come from Nearest and an
// out-of-range value is a programming error.
func (c *Codebook) Row(i int) []float32 {
	if i < 0 || i >= c.k {
		panic(fmt.Sprintf("vq: codebook index %d out of range [0,%d)", i, c.k))
	}
	return c.weight.Value.Data()[i*c.d : (i+1)*c.d]
}

// Nearest returns the index of the entry closest to v in squared Euclidean
// distance, and that distance. Ties resolve to the lowest index.
func (c *Codebook) Nearest(v []float32, scratch []float32) (int, float32) {
	return distance.ArgminSquaredL2(v, c.weight.Value.Data(), c.d, scratch)
}

// InitKMeans replaces the codebook with k-means centroids of vectors, a
// flattened set of D-dimensional encoder outputs. It is a no-op when there
// are fewer vectors than entries.
func (c *Codebook) InitKMeans(ctx context.Context, vectors []float32, iters int, rng *rand.Rand) (bool, error) {
	centroids, err := kmeans.Train(ctx, vectors, c.d, c.k, iters, rng)
	if err != nil {
		return false, err
	}
	if centroids == nil {
		return false, nil
	}
	copy(c.weight.Value.Data(), centroids)
	return true, nil
}
