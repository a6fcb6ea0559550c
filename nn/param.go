// Package nn provides the differentiable building blocks of the
// autoencoder: learnable parameters, the Block contract and the reference
// convolutional layers.
//
// # Block contract
//
// A Block caches whatever it needs during Forward. Backward consumes a
// gradient with respect to the most recent Forward output, accumulates
// parameter gradients into Param.Grad and returns the gradient with respect to
// the Forward input. Backward may be called several times for one Forward
// (each call adds to the parameter gradients), which is how the trainer runs
// independent backward passes over one cached forward result.
//
// Blocks are not safe for concurrent use.
package nn

import (
	"github.com/hupe1980/vqgo/tensor"
)

// Param is a learnable tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

// NewParam allocates a zero-valued parameter and gradient of the given shape.
func NewParam(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(shape...),
		Grad:  tensor.New(shape...),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// ZeroGrads clears the gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Block is an opaque differentiable function with a fixed shape contract.
type Block interface {
	// Forward computes the output for x and caches the state Backward needs.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)

	// Backward accumulates parameter gradients for grad (the gradient with
	// respect to the last Forward output) and returns the gradient with
	// respect to the last Forward input.
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)

	// Params returns the block's learnable parameters in a stable order.
	Params() []*Param
}
