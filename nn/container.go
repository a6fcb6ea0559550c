package nn

import (
	"github.com/hupe1980/vqgo/tensor"
)

// Sequential chains blocks; Backward runs them in reverse.
type Sequential struct {
	blocks []Block
}

// NewSequential returns a block applying blocks in order.
func NewSequential(blocks ...Block) *Sequential {
	return &Sequential{blocks: blocks}
}

// Params implements Block.
func (s *Sequential) Params() []*Param {
	var out []*Param
	for _, b := range s.blocks {
		out = append(out, b.Params()...)
	}
	return out
}

// Forward implements Block.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, b := range s.blocks {
		if x, err = b.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Backward implements Block.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if grad, err = s.blocks[i].Backward(grad); err != nil {
			return nil, err
		}
	}
	return grad, nil
}

// Residual computes x + inner(x).
type Residual struct {
	inner Block
}

// NewResidual wraps inner with an identity skip connection.
// inner must preserve its input shape.
func NewResidual(inner Block) *Residual {
	return &Residual{inner: inner}
}

// Params implements Block.
func (r *Residual) Params() []*Param { return r.inner.Params() }

// Forward implements Block.
func (r *Residual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := r.inner.Forward(x)
	if err != nil {
		return nil, err
	}
	if !y.SameShape(x) {
		return nil, &tensor.ErrShapeMismatch{Op: "Residual", Expected: x.Shape(), Actual: y.Shape()}
	}
	out := x.Clone()
	if err := out.AddScaled(1, y); err != nil {
		return nil, err
	}
	return out, nil
}

// Backward implements Block.
func (r *Residual) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	dx, err := r.inner.Backward(grad)
	if err != nil {
		return nil, err
	}
	if dx == grad {
		dx = grad.Clone()
	}
	if err := dx.AddScaled(1, grad); err != nil {
		return nil, err
	}
	return dx, nil
}
