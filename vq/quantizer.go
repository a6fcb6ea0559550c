package vq

import (
	"github.com/hupe1980/vqgo/tensor"
)

// Quantizer snaps every spatial D-vector of a (B, D, H, W) latent grid to its
// nearest codebook entry.
type Quantizer struct {
	codebook *Codebook
}

// NewQuantizer returns a quantizer over cb.
func NewQuantizer(cb *Codebook) *Quantizer {
	return &Quantizer{codebook: cb}
}

// Codebook returns the underlying codebook.
func (q *Quantizer) Codebook() *Codebook { return q.codebook }

// Quantize maps z_e (B, D, H, W) to z_q of the same shape together with the
// selected codebook index of every position in (b, h, w) order.
//
// Every D-vector of z_q is a bit-exact copy of a codebook row. The assignment
// is hard and deterministic: squared Euclidean distance, lowest index on ties.
func (q *Quantizer) Quantize(ze *tensor.Tensor) (*tensor.Tensor, []int, error) {
	d := q.codebook.D()
	if ze.Rank() != 4 || ze.Dim(1) != d {
		return nil, nil, &tensor.ErrShapeMismatch{Op: "Quantize", Expected: []int{-1, d, -1, -1}, Actual: ze.Shape()}
	}
	b, h, w := ze.Dim(0), ze.Dim(2), ze.Dim(3)
	plane := h * w

	zq := tensor.New(ze.Shape()...)
	indices := make([]int, b*plane)

	src, dst := ze.Data(), zq.Data()
	vec := make([]float32, d)
	scratch := make([]float32, q.codebook.K())
	for n := 0; n < b; n++ {
		base := n * d * plane
		for p := 0; p < plane; p++ {
			gather(src, base+p, plane, vec)
			idx, _ := q.codebook.Nearest(vec, scratch)
			indices[n*plane+p] = idx
			scatter(q.codebook.Row(idx), dst, base+p, plane)
		}
	}
	return zq, indices, nil
}

// Lookup materializes a (B, D, H, W) grid from assignment indices laid out in
// (b, h, w) order.
func (q *Quantizer) Lookup(indices []int, b, h, w int) (*tensor.Tensor, error) {
	if len(indices) != b*h*w {
		return nil, &tensor.ErrShapeMismatch{Op: "Lookup", Expected: []int{b, h, w}, Actual: []int{len(indices)}}
	}
	d := q.codebook.D()
	plane := h * w
	zq := tensor.New(b, d, h, w)
	dst := zq.Data()
	for n := 0; n < b; n++ {
		base := n * d * plane
		for p := 0; p < plane; p++ {
			scatter(q.codebook.Row(indices[n*plane+p]), dst, base+p, plane)
		}
	}
	return zq, nil
}

// Vectors flattens a (B, D, H, W) latent grid into B*H*W row-major
// D-vectors in (b, h, w) order.
func Vectors(ze *tensor.Tensor) ([]float32, error) {
	if ze.Rank() != 4 {
		return nil, &tensor.ErrShapeMismatch{Op: "Vectors", Expected: []int{-1, -1, -1, -1}, Actual: ze.Shape()}
	}
	b, d, plane := ze.Dim(0), ze.Dim(1), ze.Dim(2)*ze.Dim(3)
	out := make([]float32, ze.Len())
	src := ze.Data()
	for n := 0; n < b; n++ {
		for p := 0; p < plane; p++ {
			i := n*plane + p
			gather(src, n*d*plane+p, plane, out[i*d:(i+1)*d])
		}
	}
	return out, nil
}

// gather reads the channel-strided vector at offset into vec.
func gather(src []float32, offset, stride int, vec []float32) {
	for c := range vec {
		vec[c] = src[offset+c*stride]
	}
}

// scatter writes vec into the channel-strided position at offset.
func scatter(vec []float32, dst []float32, offset, stride int) {
	for c, v := range vec {
		dst[offset+c*stride] = v
	}
}
