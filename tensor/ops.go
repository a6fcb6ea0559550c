package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/vqgo/internal/simd"
)

// MSE returns mean((a-b)^2). Accumulation is done in float64.
func MSE(a, b *Tensor) (float64, error) {
	if !a.SameShape(b) {
		return 0, &ErrShapeMismatch{Op: "MSE", Expected: a.shape, Actual: b.shape}
	}
	if len(a.data) == 0 {
		return 0, nil
	}
	var sum float64
	for i, v := range a.data {
		d := float64(v) - float64(b.data[i])
		sum += d * d
	}
	return sum / float64(len(a.data)), nil
}

// MSEGrad returns the gradient of scale*mean((a-b)^2) with respect to a,
// that is scale*2(a-b)/n. b is treated as a constant.
func MSEGrad(a, b *Tensor, scale float32) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, &ErrShapeMismatch{Op: "MSEGrad", Expected: a.shape, Actual: b.shape}
	}
	out := New(a.shape...)
	if len(a.data) == 0 {
		return out, nil
	}
	copy(out.data, a.data)
	simd.Axpy(-1, b.data, out.data)
	simd.ScaleInPlace(out.data, scale*2/float32(len(a.data)))
	return out, nil
}

// AddScaled performs t += alpha*src in place.
func (t *Tensor) AddScaled(alpha float32, src *Tensor) error {
	if !t.SameShape(src) {
		return &ErrShapeMismatch{Op: "AddScaled", Expected: t.shape, Actual: src.shape}
	}
	simd.Axpy(alpha, src.data, t.data)
	return nil
}

// Gemm computes C = alpha*op(A)*op(B) + beta*C on row-major matrices, where
// op(X) is X or its transpose. op(A) is m×k, op(B) is k×n and C is m×n.
// lda, ldb and ldc are the row strides of the stored (untransposed) matrices.
func Gemm(transA, transB bool, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	ta, tb := blas.NoTrans, blas.NoTrans
	ga := blas32.General{Rows: m, Cols: k, Stride: lda, Data: a}
	if transA {
		ta = blas.Trans
		ga.Rows, ga.Cols = k, m
	}
	gb := blas32.General{Rows: k, Cols: n, Stride: ldb, Data: b}
	if transB {
		tb = blas.Trans
		gb.Rows, gb.Cols = n, k
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: ldc, Data: c}
	blas32.Gemm(ta, tb, alpha, ga, gb, beta, gc)
}
