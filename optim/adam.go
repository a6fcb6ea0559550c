// Package optim provides the parameter update rule used by the trainer.
package optim

import (
	"errors"
	"math"

	"github.com/hupe1980/vqgo/nn"
)

// Optimizer applies accumulated gradients to parameters.
type Optimizer interface {
	// Step updates every parameter from its accumulated gradient.
	Step() error
	// ZeroGrad clears all accumulated gradients.
	ZeroGrad()
	// Params returns the parameters under optimization.
	Params() []*nn.Param
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig returns the standard Adam hyperparameters with the given
// learning rate.
func DefaultAdamConfig(lr float64) AdamConfig {
	return AdamConfig{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Adam implements the Adam optimizer with bias correction.
//
//	m_t = β1·m + (1-β1)·g
//	v_t = β2·v + (1-β2)·g²
//	θ  -= lr · m̂ / (√v̂ + ε)
type Adam struct {
	cfg    AdamConfig
	params []*nn.Param
	m      [][]float32
	v      [][]float32
	t      int
}

// NewAdam creates an Adam optimizer over params.
func NewAdam(params []*nn.Param, cfg AdamConfig) (*Adam, error) {
	if cfg.LR <= 0 {
		return nil, errors.New("optim: learning rate must be positive")
	}
	a := &Adam{
		cfg:    cfg,
		params: params,
		m:      make([][]float32, len(params)),
		v:      make([][]float32, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float32, p.Value.Len())
		a.v[i] = make([]float32, p.Value.Len())
	}
	return a, nil
}

// Params implements Optimizer.
func (a *Adam) Params() []*nn.Param { return a.params }

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// Step implements Optimizer.
func (a *Adam) Step() error {
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	bias1 := 1 - math.Pow(b1, float64(a.t))
	bias2 := 1 - math.Pow(b2, float64(a.t))
	stepSize := a.cfg.LR / bias1
	sqrtBias2 := math.Sqrt(bias2)

	for i, p := range a.params {
		val, grad := p.Value.Data(), p.Grad.Data()
		m, v := a.m[i], a.v[i]
		for j, g64 := range grad {
			g := float64(g64)
			mj := b1*float64(m[j]) + (1-b1)*g
			vj := b2*float64(v[j]) + (1-b2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)
			denom := math.Sqrt(vj)/sqrtBias2 + a.cfg.Epsilon
			val[j] -= float32(stepSize * mj / denom)
		}
	}
	return nil
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad() {
	nn.ZeroGrads(a.params)
}
