// Package tensor provides the dense float32 N-d array used by the
// autoencoder, its layers and the quantizer.
//
// Tensors are row-major. Image-like data uses the (B, C, H, W) layout.
// A Tensor owns its backing slice unless it was produced by Reshape, which
// shares storage with its source.
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	shape []int
	data  []float32
}

// New returns a zero-filled tensor with the given shape.
// It panics on a negative dimension.
func New(shape ...int) *Tensor {
	n := numel(shape)
	return &Tensor{
		shape: slices.Clone(shape),
		data:  make([]float32, n),
	}
}

// FromSlice wraps data as a tensor with the given shape.
// The slice is used directly, not copied.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, &ErrShapeMismatch{
			Op:       "FromSlice",
			Expected: shape,
			Actual:   []int{len(data)},
		}
	}
	return &Tensor{shape: slices.Clone(shape), data: data}, nil
}

// MustFromSlice is FromSlice that panics on a length mismatch.
// Intended for tests and constant tables.
func MustFromSlice(data []float32, shape ...int) *Tensor {
	t, err := FromSlice(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension %d in %v", d, shape))
		}
		n *= d
	}
	return n
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing slice.
func (t *Tensor) Data() []float32 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Zero sets every element to 0.
func (t *Tensor) Zero() {
	clear(t.data)
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// CopyFrom copies src's elements into t. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.SameShape(src) {
		return &ErrShapeMismatch{Op: "CopyFrom", Expected: t.shape, Actual: src.shape}
	}
	copy(t.data, src.data)
	return nil
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.shape, o.shape)
}

// Reshape returns a view of t with a new shape sharing the same storage.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.data) {
		return nil, &ErrShapeMismatch{Op: "Reshape", Expected: shape, Actual: t.shape}
	}
	return &Tensor{shape: slices.Clone(shape), data: t.data}, nil
}

// Narrow returns a copy of the first n entries along dimension 0.
// n is clamped to the tensor's leading dimension.
func (t *Tensor) Narrow(n int) *Tensor {
	if len(t.shape) == 0 {
		return t.Clone()
	}
	if n > t.shape[0] {
		n = t.shape[0]
	}
	if n < 0 {
		n = 0
	}
	stride := 1
	for _, d := range t.shape[1:] {
		stride *= d
	}
	shape := slices.Clone(t.shape)
	shape[0] = n
	return &Tensor{shape: shape, data: slices.Clone(t.data[:n*stride])}
}

// Concat joins tensors along dimension 0. All trailing dimensions must agree.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return New(0), nil
	}
	first := ts[0]
	total := 0
	for _, t := range ts {
		if t.Rank() != first.Rank() || !slices.Equal(t.shape[1:], first.shape[1:]) {
			return nil, &ErrShapeMismatch{Op: "Concat", Expected: first.shape, Actual: t.shape}
		}
		total += t.shape[0]
	}
	shape := slices.Clone(first.shape)
	shape[0] = total
	out := New(shape...)
	off := 0
	for _, t := range ts {
		off += copy(out.data[off:], t.data)
	}
	return out, nil
}

// AllFinite reports whether no element is NaN or ±Inf.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String returns a short description (shape only).
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
