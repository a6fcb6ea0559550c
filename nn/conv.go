package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/vqgo/tensor"
)

// ErrNoForward is returned by Backward when no Forward result is cached.
var ErrNoForward = errors.New("nn: backward called before forward")

// Conv2D is a square-kernel 2D convolution over (B, C, H, W) inputs.
//
// Weight layout is (out, in, k, k), bias is (out).
type Conv2D struct {
	in, out int
	geo     geometry
	weight  *Param
	bias    *Param

	x   *tensor.Tensor
	col []float32
}

// NewConv2D creates a convolution with Xavier-uniform weights and zero bias.
func NewConv2D(name string, in, out, k, stride, pad int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		in:     in,
		out:    out,
		geo:    geometry{k: k, stride: stride, pad: pad},
		weight: NewParam(name+".weight", out, in, k, k),
		bias:   NewParam(name+".bias", out),
	}
	xavierUniform(c.weight.Value.Data(), in*k*k, out*k*k, rng)
	return c
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Param { return c.weight }

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Param { return c.bias }

// Params implements Block.
func (c *Conv2D) Params() []*Param { return []*Param{c.weight, c.bias} }

// Forward implements Block.
func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 4 || x.Dim(1) != c.in {
		return nil, &tensor.ErrShapeMismatch{Op: "Conv2D", Expected: []int{-1, c.in, -1, -1}, Actual: x.Shape()}
	}
	b, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	oh, ow := c.geo.outSize(h), c.geo.outSize(w)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d: input %dx%d too small for kernel %d", h, w, c.geo.k)
	}

	ckk := c.in * c.geo.k * c.geo.k
	plane := oh * ow
	col := c.scratch(ckk * plane)

	y := tensor.New(b, c.out, oh, ow)
	xd, yd := x.Data(), y.Data()
	wd, bd := c.weight.Value.Data(), c.bias.Value.Data()
	for n := 0; n < b; n++ {
		im2col(xd[n*c.in*h*w:(n+1)*c.in*h*w], c.in, h, w, c.geo, oh, ow, col)
		yb := yd[n*c.out*plane : (n+1)*c.out*plane]
		tensor.Gemm(false, false, c.out, plane, ckk, 1, wd, ckk, col, plane, 0, yb, plane)
		addBias(yb, bd, plane)
	}

	c.x = x
	return y, nil
}

// Backward implements Block.
func (c *Conv2D) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if c.x == nil {
		return nil, ErrNoForward
	}
	b, h, w := c.x.Dim(0), c.x.Dim(2), c.x.Dim(3)
	oh, ow := c.geo.outSize(h), c.geo.outSize(w)
	if grad.Rank() != 4 || grad.Dim(0) != b || grad.Dim(1) != c.out || grad.Dim(2) != oh || grad.Dim(3) != ow {
		return nil, &tensor.ErrShapeMismatch{Op: "Conv2D.Backward", Expected: []int{b, c.out, oh, ow}, Actual: grad.Shape()}
	}

	ckk := c.in * c.geo.k * c.geo.k
	plane := oh * ow
	col := c.scratch(ckk * plane)
	dcol := make([]float32, ckk*plane)

	dx := tensor.New(c.x.Shape()...)
	xd, gd, dxd := c.x.Data(), grad.Data(), dx.Data()
	wd, wg, bg := c.weight.Value.Data(), c.weight.Grad.Data(), c.bias.Grad.Data()
	for n := 0; n < b; n++ {
		im2col(xd[n*c.in*h*w:(n+1)*c.in*h*w], c.in, h, w, c.geo, oh, ow, col)
		gb := gd[n*c.out*plane : (n+1)*c.out*plane]

		// dW += g · colᵀ
		tensor.Gemm(false, true, c.out, ckk, plane, 1, gb, plane, col, plane, 1, wg, ckk)
		sumBias(gb, bg, plane)

		// dcol = Wᵀ · g
		tensor.Gemm(true, false, ckk, plane, c.out, 1, wd, ckk, gb, plane, 0, dcol, plane)
		col2im(dcol, c.in, h, w, c.geo, oh, ow, dxd[n*c.in*h*w:(n+1)*c.in*h*w])
	}
	return dx, nil
}

func (c *Conv2D) scratch(n int) []float32 {
	if cap(c.col) < n {
		c.col = make([]float32, n)
	}
	return c.col[:n]
}

// ConvTranspose2D is the adjoint of Conv2D, used for upsampling.
//
// Weight layout is (in, out, k, k), bias is (out).
type ConvTranspose2D struct {
	in, out int
	geo     geometry
	weight  *Param
	bias    *Param

	x   *tensor.Tensor
	col []float32
}

// NewConvTranspose2D creates a transposed convolution with Xavier-uniform
// weights and zero bias.
func NewConvTranspose2D(name string, in, out, k, stride, pad int, rng *rand.Rand) *ConvTranspose2D {
	c := &ConvTranspose2D{
		in:     in,
		out:    out,
		geo:    geometry{k: k, stride: stride, pad: pad},
		weight: NewParam(name+".weight", in, out, k, k),
		bias:   NewParam(name+".bias", out),
	}
	xavierUniform(c.weight.Value.Data(), out*k*k, in*k*k, rng)
	return c
}

// Weight returns the kernel parameter.
func (c *ConvTranspose2D) Weight() *Param { return c.weight }

// Bias returns the bias parameter.
func (c *ConvTranspose2D) Bias() *Param { return c.bias }

// Params implements Block.
func (c *ConvTranspose2D) Params() []*Param { return []*Param{c.weight, c.bias} }

// Forward implements Block.
func (c *ConvTranspose2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 4 || x.Dim(1) != c.in {
		return nil, &tensor.ErrShapeMismatch{Op: "ConvTranspose2D", Expected: []int{-1, c.in, -1, -1}, Actual: x.Shape()}
	}
	b, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	oh, ow := c.geo.transposedOutSize(h), c.geo.transposedOutSize(w)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("convtranspose2d: input %dx%d yields empty output", h, w)
	}

	okk := c.out * c.geo.k * c.geo.k
	hw := h * w
	col := c.scratch(okk * hw)

	y := tensor.New(b, c.out, oh, ow)
	xd, yd := x.Data(), y.Data()
	wd, bd := c.weight.Value.Data(), c.bias.Value.Data()
	for n := 0; n < b; n++ {
		xb := xd[n*c.in*hw : (n+1)*c.in*hw]
		// col = Wᵀ · x
		tensor.Gemm(true, false, okk, hw, c.in, 1, wd, okk, xb, hw, 0, col, hw)
		yb := yd[n*c.out*oh*ow : (n+1)*c.out*oh*ow]
		col2im(col, c.out, oh, ow, c.geo, h, w, yb)
		addBias(yb, bd, oh*ow)
	}

	c.x = x
	return y, nil
}

// Backward implements Block.
func (c *ConvTranspose2D) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if c.x == nil {
		return nil, ErrNoForward
	}
	b, h, w := c.x.Dim(0), c.x.Dim(2), c.x.Dim(3)
	oh, ow := c.geo.transposedOutSize(h), c.geo.transposedOutSize(w)
	if grad.Rank() != 4 || grad.Dim(0) != b || grad.Dim(1) != c.out || grad.Dim(2) != oh || grad.Dim(3) != ow {
		return nil, &tensor.ErrShapeMismatch{Op: "ConvTranspose2D.Backward", Expected: []int{b, c.out, oh, ow}, Actual: grad.Shape()}
	}

	okk := c.out * c.geo.k * c.geo.k
	hw := h * w
	gcol := c.scratch(okk * hw)

	dx := tensor.New(c.x.Shape()...)
	xd, gd, dxd := c.x.Data(), grad.Data(), dx.Data()
	wd, wg, bg := c.weight.Value.Data(), c.weight.Grad.Data(), c.bias.Grad.Data()
	for n := 0; n < b; n++ {
		gb := gd[n*c.out*oh*ow : (n+1)*c.out*oh*ow]
		im2col(gb, c.out, oh, ow, c.geo, h, w, gcol)
		sumBias(gb, bg, oh*ow)

		xb := xd[n*c.in*hw : (n+1)*c.in*hw]
		// dW += x · gcolᵀ
		tensor.Gemm(false, true, c.in, okk, hw, 1, xb, hw, gcol, hw, 1, wg, okk)
		// dx = W · gcol
		tensor.Gemm(false, false, c.in, hw, okk, 1, wd, okk, gcol, hw, 0, dxd[n*c.in*hw:(n+1)*c.in*hw], hw)
	}
	return dx, nil
}

func (c *ConvTranspose2D) scratch(n int) []float32 {
	if cap(c.col) < n {
		c.col = make([]float32, n)
	}
	return c.col[:n]
}

func addBias(y, bias []float32, plane int) {
	for o, v := range bias {
		row := y[o*plane : (o+1)*plane]
		for i := range row {
			row[i] += v
		}
	}
}

func sumBias(g, biasGrad []float32, plane int) {
	for o := range biasGrad {
		var s float32
		for _, v := range g[o*plane : (o+1)*plane] {
			s += v
		}
		biasGrad[o] += s
	}
}

func xavierUniform(w []float32, fanIn, fanOut int, rng *rand.Rand) {
	bound := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * bound
	}
}
