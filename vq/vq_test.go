package vq

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vqgo/tensor"
)

func squareCodebook(t *testing.T) *Codebook {
	t.Helper()
	cb, err := NewCodebookFromRows([][]float32{
		{0, 0},
		{10, 0},
		{0, 10},
		{10, 10},
	})
	require.NoError(t, err)
	return cb
}

// latentGrid builds a (1, D, 1, N) grid from N D-vectors.
func latentGrid(vecs ...[]float32) *tensor.Tensor {
	d := len(vecs[0])
	n := len(vecs)
	ze := tensor.New(1, d, 1, n)
	for p, v := range vecs {
		for c := range v {
			ze.Data()[c*n+p] = v[c]
		}
	}
	return ze
}

func TestCodebook_Scenario(t *testing.T) {
	cb := squareCodebook(t)
	idx, d := cb.Nearest([]float32{9, 1}, nil)
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(2), d)

	// Every other row is strictly farther.
	v := []float32{9, 1}
	for i := 0; i < cb.K(); i++ {
		if i == 1 {
			continue
		}
		r := cb.Row(i)
		other := (v[0]-r[0])*(v[0]-r[0]) + (v[1]-r[1])*(v[1]-r[1])
		assert.Greater(t, other, d)
	}
}

func TestQuantize_Scenario(t *testing.T) {
	q := NewQuantizer(squareCodebook(t))

	zq, indices, err := q.Quantize(latentGrid([]float32{9, 1}, []float32{1, 9}, []float32{6, 7}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, indices)
	assert.Equal(t, []int{1, 2, 1, 3}, zq.Shape())
	// Channel-major layout: channel 0 then channel 1.
	assert.Equal(t, []float32{10, 0, 10, 0, 10, 10}, zq.Data())
}

func TestQuantize_TiesPickLowestIndex(t *testing.T) {
	q := NewQuantizer(squareCodebook(t))

	_, indices, err := q.Quantize(latentGrid([]float32{5, 5}, []float32{5, 0}, []float32{10, 5}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, indices)
}

func TestQuantize_NearestNeighborAndExactMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	k, d := 16, 5
	cb, err := NewCodebook(k, d, rng)
	require.NoError(t, err)
	// Spread the rows out so the assignment is non-trivial.
	for i := range cb.Param().Value.Data() {
		cb.Param().Value.Data()[i] = rng.Float32()*4 - 2
	}
	q := NewQuantizer(cb)

	b, h, w := 3, 4, 2
	ze := tensor.New(b, d, h, w)
	for i := range ze.Data() {
		ze.Data()[i] = rng.Float32()*4 - 2
	}

	zq, indices, err := q.Quantize(ze)
	require.NoError(t, err)
	require.Len(t, indices, b*h*w)

	plane := h * w
	for n := 0; n < b; n++ {
		for p := 0; p < plane; p++ {
			v := make([]float32, d)
			got := make([]float32, d)
			for c := 0; c < d; c++ {
				v[c] = ze.Data()[n*d*plane+c*plane+p]
				got[c] = zq.Data()[n*d*plane+c*plane+p]
			}
			idx := indices[n*plane+p]

			// Exact match: the quantized vector is bit-identical to its row.
			assert.Equal(t, cb.Row(idx), got)

			// Minimality with lowest-index tie breaking.
			best := dist2(v, cb.Row(idx))
			for i := 0; i < k; i++ {
				di := dist2(v, cb.Row(i))
				if i < idx {
					assert.Greater(t, di, best)
				} else {
					assert.GreaterOrEqual(t, di, best)
				}
			}
		}
	}

	// Lookup reproduces z_q from the indices.
	again, err := q.Lookup(indices, b, h, w)
	require.NoError(t, err)
	assert.Equal(t, zq.Data(), again.Data())
}

func dist2(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return s
}

func TestQuantize_ShapeMismatch(t *testing.T) {
	q := NewQuantizer(squareCodebook(t))

	_, _, err := q.Quantize(tensor.New(1, 3, 2, 2))
	var sm *tensor.ErrShapeMismatch
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, "Quantize", sm.Op)

	_, _, err = q.Quantize(tensor.New(2, 2))
	assert.ErrorAs(t, err, &sm)

	_, err = q.Lookup([]int{0}, 1, 2, 2)
	assert.ErrorAs(t, err, &sm)
}

func TestCodebook_RowOutOfRangePanics(t *testing.T) {
	cb := squareCodebook(t)
	assert.Panics(t, func() { cb.Row(4) })
	assert.Panics(t, func() { cb.Row(-1) })
}

func TestNewCodebook(t *testing.T) {
	cb, err := NewCodebook(512, 8, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []int{512, 8}, cb.All().Shape())
	for _, v := range cb.All().Data() {
		assert.LessOrEqual(t, math.Abs(float64(v)), 1.0/512)
	}
	assert.Equal(t, ParamName, cb.Param().Name)

	_, err = NewCodebook(0, 8, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = NewCodebookFromRows([][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestStraightThrough(t *testing.T) {
	g := tensor.MustFromSlice([]float32{1, -2, 3, 0.5}, 1, 2, 1, 2)
	out := StraightThrough(g)
	assert.Equal(t, g.Data(), out.Data())
	assert.Equal(t, g.Shape(), out.Shape())

	// Independent storage.
	out.Data()[0] = 99
	assert.Equal(t, float32(1), g.Data()[0])
}

func TestCodebookGrad(t *testing.T) {
	cb := squareCodebook(t)
	q := NewQuantizer(cb)

	ze := latentGrid([]float32{9, 1}, []float32{8, 2}, []float32{1, 1})
	zq, indices, err := q.Quantize(ze)
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 0}, indices)

	loss, err := CodebookLoss(zq, ze)
	require.NoError(t, err)
	// ((1+1) + (4+4) + (1+1)) / 6
	assert.InDelta(t, 2.0, loss, 1e-9)

	require.NoError(t, AccumulateCodebookGrad(cb, zq, ze, indices))
	g := cb.Param().Grad.Data()
	// Row 1 gets 2/6 * ((10-9)+(10-8), (0-1)+(0-2)).
	assert.InDelta(t, 1.0, g[2], 1e-6)
	assert.InDelta(t, -1.0, g[3], 1e-6)
	// Row 0 gets 2/6 * (0-1, 0-1).
	assert.InDelta(t, -1.0/3, g[0], 1e-6)
	assert.InDelta(t, -1.0/3, g[1], 1e-6)
	// Unused rows receive nothing.
	assert.Equal(t, []float32{0, 0, 0, 0}, g[4:])

	// The gradient matches a central difference of the loss in the codebook
	// with the assignment held fixed.
	const eps = 1e-3
	analytic := cb.Param().Grad.Clone()
	for i := range cb.Param().Value.Data() {
		vals := cb.Param().Value.Data()
		orig := vals[i]
		vals[i] = orig + eps
		zp, err := q.Lookup(indices, 1, 1, 3)
		require.NoError(t, err)
		lp, _ := CodebookLoss(zp, ze)
		vals[i] = orig - eps
		zm, err := q.Lookup(indices, 1, 1, 3)
		require.NoError(t, err)
		lm, _ := CodebookLoss(zm, ze)
		vals[i] = orig
		assert.InDelta(t, (lp-lm)/(2*eps), float64(analytic.Data()[i]), 1e-2)
	}

	assert.Error(t, AccumulateCodebookGrad(cb, zq, ze, indices[:2]))
}

func TestCommitment(t *testing.T) {
	ze := tensor.MustFromSlice([]float32{9, 1}, 1, 2, 1, 1)
	zq := tensor.MustFromSlice([]float32{10, 0}, 1, 2, 1, 1)

	loss, err := CommitmentLoss(ze, zq, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, loss, 1e-9)

	g, err := CommitmentGrad(ze, zq, 0.25)
	require.NoError(t, err)
	// 0.25 * 2 * (z_e - z_q) / 2
	assert.Equal(t, []float32{-0.25, 0.25}, g.Data())
}

func TestUsage(t *testing.T) {
	u := NewUsage(4)
	assert.Equal(t, 0.0, u.Perplexity())

	u.Observe([]int{1, 1, 3})
	assert.Equal(t, 2, u.Used())
	assert.Equal(t, []int{0, 2}, u.Dead())

	u.Observe([]int{0, 2, 0, 2, 3, 3})
	// counts: 2,2,2,3 → not uniform, so perplexity < 4
	assert.Equal(t, 4, u.Used())
	assert.Empty(t, u.Dead())
	assert.Less(t, u.Perplexity(), 4.0)
	assert.Greater(t, u.Perplexity(), 3.9)

	u.Reset()
	assert.Equal(t, 0, u.Used())
	assert.Len(t, u.Dead(), 4)

	u.Observe([]int{2, 2, 2})
	assert.InDelta(t, 1.0, u.Perplexity(), 1e-12)
}

func TestUsage_SetsAgree(t *testing.T) {
	u := NewUsage(6)
	u.Observe([]int{5, 0, 5, 3})

	used := u.UsedSet()
	assert.Equal(t, []uint32{0, 3, 5}, used.ToArray())
	assert.Equal(t, int(used.GetCardinality()), u.Used())
	assert.Equal(t, u.k, u.Used()+len(u.Dead()))
	for _, d := range u.Dead() {
		assert.False(t, used.Contains(uint32(d)))
	}

	u.Reset()
	assert.True(t, u.UsedSet().IsEmpty())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, u.Dead())
}

func TestCodebook_InitKMeans(t *testing.T) {
	cb, err := NewCodebook(2, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	vecs := []float32{0, 0, 0, 1, 10, 10, 10, 11}
	ok, err := cb.InitKMeans(context.Background(), vecs, 50, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.True(t, ok)

	i0, _ := cb.Nearest([]float32{0, 0.5}, nil)
	i1, _ := cb.Nearest([]float32{10, 10.5}, nil)
	assert.NotEqual(t, i0, i1)
	assert.InDelta(t, 0.5, cb.Row(i0)[1], 1e-5)

	ok, err = cb.InitKMeans(context.Background(), []float32{1, 1}, 50, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectors(t *testing.T) {
	ze := latentGrid([]float32{1, 2}, []float32{3, 4}, []float32{5, 6})
	vecs, err := Vectors(ze)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, vecs)

	_, err = Vectors(tensor.New(2, 3))
	var sm *tensor.ErrShapeMismatch
	assert.ErrorAs(t, err, &sm)
}
