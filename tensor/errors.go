package tensor

import "fmt"

// ErrShapeMismatch indicates that two tensors (or a tensor and a declared
// contract) disagree on shape. It is a precondition violation: callers are
// expected to abort rather than recover.
type ErrShapeMismatch struct {
	Op       string
	Expected []int
	Actual   []int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("%s: shape mismatch: expected %v, got %v", e.Op, e.Expected, e.Actual)
}
