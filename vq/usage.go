package vq

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Usage counts how often each codebook entry was selected.
// It is a diagnostic and never influences training.
type Usage struct {
	k      int
	counts []uint64
	total  uint64
}

// NewUsage returns an empty tracker for a codebook of size k.
func NewUsage(k int) *Usage {
	return &Usage{
		k:      k,
		counts: make([]uint64, k),
	}
}

// Observe records a batch of assignment indices.
func (u *Usage) Observe(indices []int) {
	for _, idx := range indices {
		u.counts[idx]++
	}
	u.total += uint64(len(indices))
}

// UsedSet returns the entries selected at least once.
func (u *Usage) UsedSet() *roaring.Bitmap {
	bm := roaring.New()
	for i, c := range u.counts {
		if c > 0 {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// Used returns the number of distinct entries selected so far.
func (u *Usage) Used() int {
	return int(u.UsedSet().GetCardinality())
}

// Dead returns the entries that were never selected, in ascending order.
func (u *Usage) Dead() []int {
	unused := roaring.Flip(u.UsedSet(), 0, uint64(u.k))
	out := make([]int, 0, unused.GetCardinality())
	it := unused.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Perplexity returns exp(H) of the empirical assignment distribution, which
// ranges from 1 (a single entry used) to K (uniform use).
func (u *Usage) Perplexity() float64 {
	if u.total == 0 {
		return 0
	}
	var h float64
	for _, c := range u.counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(u.total)
		h -= p * math.Log(p)
	}
	return math.Exp(h)
}

// Reset clears all observations.
func (u *Usage) Reset() {
	clear(u.counts)
	u.total = 0
}
