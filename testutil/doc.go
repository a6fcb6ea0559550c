// Package testutil provides deterministic random data for tests.
//
// This package is intended for use in tests only.
//
//	rng := testutil.NewRNG(seed)
//	x := rng.UniformTensor(-1, 1, 4, 3, 8, 8) // image batch in [-1, 1)
//	m, _ := model.NewReference(3, 16, 32, rng.Fork())
package testutil
