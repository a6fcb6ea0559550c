package data

import (
	"math/rand"
)

// NewSynthetic returns n random images of shape (c, h, w) with labels in
// [0, 10). The same seed always yields the same dataset.
func NewSynthetic(n, c, h, w int, seed int64) (*Images, error) {
	rng := rand.New(rand.NewSource(seed))
	pixels := make([]byte, n*c*h*w)
	rng.Read(pixels)
	labels := make([]byte, n)
	for i := range labels {
		labels[i] = byte(rng.Intn(10))
	}
	return NewImages(c, h, w, pixels, labels)
}
