package distance

import "github.com/hupe1980/vqgo/internal/simd"

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return simd.SquaredL2(a, b)
}

// ArgminSquaredL2 returns the index of the row in table (a flattened set of
// len(table)/dim rows) closest to query, together with its squared distance.
//
// Ties resolve to the lowest index. scratch is reused for the per-row
// distances when it is large enough; pass nil to allocate.
// Returns -1 if the table is empty.
func ArgminSquaredL2(query, table []float32, dim int, scratch []float32) (int, float32) {
	if dim <= 0 {
		return -1, 0
	}
	n := len(table) / dim
	if n == 0 {
		return -1, 0
	}
	if cap(scratch) < n {
		scratch = make([]float32, n)
	}
	dists := scratch[:n]
	simd.SquaredL2Batch(query, table, dim, dists)

	best := 0
	bestDist := dists[0]
	for i := 1; i < n; i++ {
		// Strict comparison keeps the first minimum.
		if dists[i] < bestDist {
			bestDist = dists[i]
			best = i
		}
	}
	return best, bestDist
}
