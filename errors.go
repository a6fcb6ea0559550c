package vqgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vqgo/tensor"
)

// ErrNonFinite is returned when a loss becomes NaN or infinite. Training
// stops; there is no retry.
var ErrNonFinite = errors.New("non-finite loss")

// ErrShapeMismatch indicates a tensor shape contract violation somewhere in
// the model or the loss computation.
//
// The underlying error is available through errors.Unwrap.
type ErrShapeMismatch struct {
	Op       string
	Expected []int
	Actual   []int
	cause    error
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch in %s: expected %v, got %v", e.Op, e.Expected, e.Actual)
}

func (e *ErrShapeMismatch) Unwrap() error { return e.cause }

// ErrStage annotates an error with the training stage it happened in.
type ErrStage struct {
	Stage Stage
	cause error
}

func (e *ErrStage) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.cause)
}

func (e *ErrStage) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var sm *tensor.ErrShapeMismatch
	if errors.As(err, &sm) {
		var own *ErrShapeMismatch
		if errors.As(err, &own) {
			return err
		}
		return &ErrShapeMismatch{Op: sm.Op, Expected: sm.Expected, Actual: sm.Actual, cause: err}
	}
	return err
}

func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &ErrStage{Stage: stage, cause: translateError(err)}
}
