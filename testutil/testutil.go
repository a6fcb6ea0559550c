package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/vqgo/tensor"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Fork returns an independent, unsynchronized *rand.Rand seeded from r.
// Layer constructors take one of these.
func (r *RNG) Fork() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rand.New(rand.NewSource(r.rand.Int63()))
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.FillUniformRange(dst, 0, 1)
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// UniformTensor returns a tensor of the given shape with values in
// [minVal, maxVal).
func (r *RNG) UniformTensor(minVal, maxVal float32, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	r.FillUniformRange(t.Data(), minVal, maxVal)
	return t
}

// Images returns n flattened c×h×w images with pixel values in [0, 255],
// as a data source would deliver them before normalization.
func (r *RNG) Images(n, c, h, w int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, n*c*h*w)
	r.rand.Read(data)
	out := make([][]byte, n)
	for i := range out {
		out[i] = data[i*c*h*w : (i+1)*c*h*w]
	}
	return out
}
