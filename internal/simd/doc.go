// Package simd provides the float32 vector kernels used by the quantizer and
// the tensor layer.
//
// # Operations
//
//   - Distance: SquaredL2
//   - Batch: SquaredL2Batch (one query against a flattened row table)
//   - Update: Axpy, ScaleInPlace
//
// The kernels are portable Go with 4-way unrolled accumulators. Callers own
// length checks; see the SAFETY notes on each function.
package simd
