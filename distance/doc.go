// Package distance provides the squared Euclidean distance used for
// nearest-codebook lookup, backed by the internal float32 kernels.
//
//	dist := distance.SquaredL2(a, b)
//	idx, d := distance.ArgminSquaredL2(query, table, dim, scratch)
package distance
