package vq

import (
	"github.com/hupe1980/vqgo/tensor"
)

// StraightThrough returns the gradient for z_e given the gradient that
// reached z_q: the quantizer is treated as the identity.
func StraightThrough(gradZq *tensor.Tensor) *tensor.Tensor {
	return gradZq.Clone()
}

// CodebookLoss is MSE(z_q, sg(z_e)).
func CodebookLoss(zq, ze *tensor.Tensor) (float64, error) {
	return tensor.MSE(zq, ze)
}

// AccumulateCodebookGrad adds the gradient of CodebookLoss with respect to
// the codebook into cb's parameter gradient. z_e is a constant here and
// nothing else receives gradient.
//
// Each position contributes 2(z_q − z_e)/numel to the row it was assigned.
func AccumulateCodebookGrad(cb *Codebook, zq, ze *tensor.Tensor, indices []int) error {
	if !zq.SameShape(ze) {
		return &tensor.ErrShapeMismatch{Op: "CodebookGrad", Expected: zq.Shape(), Actual: ze.Shape()}
	}
	d := cb.D()
	if zq.Rank() != 4 || zq.Dim(1) != d {
		return &tensor.ErrShapeMismatch{Op: "CodebookGrad", Expected: []int{-1, d, -1, -1}, Actual: zq.Shape()}
	}
	b, plane := zq.Dim(0), zq.Dim(2)*zq.Dim(3)
	if len(indices) != b*plane {
		return &tensor.ErrShapeMismatch{Op: "CodebookGrad", Expected: []int{b * plane}, Actual: []int{len(indices)}}
	}
	if zq.Len() == 0 {
		return nil
	}

	scale := 2 / float32(zq.Len())
	q, e := zq.Data(), ze.Data()
	grad := cb.Param().Grad.Data()
	for n := 0; n < b; n++ {
		base := n * d * plane
		for p := 0; p < plane; p++ {
			row := grad[indices[n*plane+p]*d:]
			for c := 0; c < d; c++ {
				off := base + c*plane + p
				row[c] += scale * (q[off] - e[off])
			}
		}
	}
	return nil
}

// CommitmentLoss is λ·MSE(sg(z_q), z_e).
func CommitmentLoss(ze, zq *tensor.Tensor, lambda float64) (float64, error) {
	mse, err := tensor.MSE(ze, zq)
	if err != nil {
		return 0, err
	}
	return lambda * mse, nil
}

// CommitmentGrad returns the gradient of CommitmentLoss with respect to z_e,
// λ·2(z_e − z_q)/numel. z_q is a constant here.
func CommitmentGrad(ze, zq *tensor.Tensor, lambda float64) (*tensor.Tensor, error) {
	return tensor.MSEGrad(ze, zq, float32(lambda))
}
