package nn

import (
	"math"

	"github.com/hupe1980/vqgo/tensor"
)

// ReLU is the rectified linear unit max(0, x).
type ReLU struct {
	x *tensor.Tensor
}

// NewReLU returns a ReLU block.
func NewReLU() *ReLU { return &ReLU{} }

// Params implements Block.
func (*ReLU) Params() []*Param { return nil }

// Forward implements Block.
func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := tensor.New(x.Shape()...)
	yd := y.Data()
	for i, v := range x.Data() {
		if v > 0 {
			yd[i] = v
		}
	}
	r.x = x
	return y, nil
}

// Backward implements Block.
func (r *ReLU) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.x == nil {
		return nil, ErrNoForward
	}
	if !grad.SameShape(r.x) {
		return nil, &tensor.ErrShapeMismatch{Op: "ReLU.Backward", Expected: r.x.Shape(), Actual: grad.Shape()}
	}
	dx := tensor.New(grad.Shape()...)
	dxd, xd := dx.Data(), r.x.Data()
	for i, g := range grad.Data() {
		if xd[i] > 0 {
			dxd[i] = g
		}
	}
	return dx, nil
}

// Tanh squashes its input to (-1, 1), matching the normalized image range.
type Tanh struct {
	y *tensor.Tensor
}

// NewTanh returns a Tanh block.
func NewTanh() *Tanh { return &Tanh{} }

// Params implements Block.
func (*Tanh) Params() []*Param { return nil }

// Forward implements Block.
func (t *Tanh) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := tensor.New(x.Shape()...)
	yd := y.Data()
	for i, v := range x.Data() {
		yd[i] = float32(math.Tanh(float64(v)))
	}
	t.y = y
	return y, nil
}

// Backward implements Block.
func (t *Tanh) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if t.y == nil {
		return nil, ErrNoForward
	}
	if !grad.SameShape(t.y) {
		return nil, &tensor.ErrShapeMismatch{Op: "Tanh.Backward", Expected: t.y.Shape(), Actual: grad.Shape()}
	}
	dx := tensor.New(grad.Shape()...)
	dxd, yd := dx.Data(), t.y.Data()
	for i, g := range grad.Data() {
		dxd[i] = g * (1 - yd[i]*yd[i])
	}
	return dx, nil
}
