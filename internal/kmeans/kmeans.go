// Package kmeans implements k-means clustering for codebook initialization.
//
// The vector-quantization codebook can optionally be seeded from centroids
// of early encoder outputs instead of the default uniform initialization.
package kmeans

import (
	"context"
	"math/rand"

	"github.com/hupe1980/vqgo/distance"
)

// Train trains k centroids from the given vectors using Lloyd's algorithm.
// It returns the flattened centroids (k * dim), or nil if there are fewer
// than k vectors.
//
// Assignment uses squared L2 with lowest-index tie breaking, the same rule
// as the quantizer.
func Train(ctx context.Context, vectors []float32, dim int, k int, maxIter int, rng *rand.Rand) ([]float32, error) {
	if dim <= 0 || k <= 0 {
		return nil, nil
	}
	n := len(vectors) / dim
	if n < k {
		return nil, nil // Not enough vectors to cluster
	}

	centroids := make([]float32, k*dim)

	// Initialize centroids from distinct random data points
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)
	scratch := make([]float32, k)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			best, _ := distance.ArgminSquaredL2(vectors[i*dim:(i+1)*dim], centroids, dim, scratch)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed empty clusters with a random point
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

// Assign returns the closest centroid index for every vector.
func Assign(vectors []float32, centroids []float32, dim int) []int {
	n := len(vectors) / dim
	out := make([]int, n)
	scratch := make([]float32, len(centroids)/dim)
	for i := 0; i < n; i++ {
		out[i], _ = distance.ArgminSquaredL2(vectors[i*dim:(i+1)*dim], centroids, dim, scratch)
	}
	return out
}
