package model

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/vq"
)

// NewEncoder returns the reference encoder: two stride-2 4×4 convolutions
// followed by two residual blocks. It maps (B, C, H, W) to (B, dim, H/4, W/4).
func NewEncoder(inChannels, dim int, rng *rand.Rand) nn.Block {
	return nn.NewSequential(
		nn.NewConv2D("encoder.0", inChannels, dim, 4, 2, 1, rng),
		nn.NewReLU(),
		nn.NewConv2D("encoder.2", dim, dim, 4, 2, 1, rng),
		newResBlock("encoder.3", dim, rng),
		newResBlock("encoder.4", dim, rng),
	)
}

// NewDecoder returns the reference decoder, the mirror of NewEncoder ending in
// tanh so that reconstructions lie in [-1, 1].
func NewDecoder(dim, outChannels int, rng *rand.Rand) nn.Block {
	return nn.NewSequential(
		newResBlock("decoder.0", dim, rng),
		newResBlock("decoder.1", dim, rng),
		nn.NewReLU(),
		nn.NewConvTranspose2D("decoder.3", dim, dim, 4, 2, 1, rng),
		nn.NewReLU(),
		nn.NewConvTranspose2D("decoder.5", dim, outChannels, 4, 2, 1, rng),
		nn.NewTanh(),
	)
}

// newResBlock is x + Conv1×1(ReLU(Conv3×3(ReLU(x)))).
func newResBlock(name string, dim int, rng *rand.Rand) nn.Block {
	return nn.NewResidual(nn.NewSequential(
		nn.NewReLU(),
		nn.NewConv2D(name+".block.1", dim, dim, 3, 1, 1, rng),
		nn.NewReLU(),
		nn.NewConv2D(name+".block.3", dim, dim, 1, 1, 0, rng),
	))
}

// NewReference builds the reference autoencoder for images with inChannels
// channels, a dim-dimensional latent space and a codebook of k entries.
// Input height and width must be divisible by 4.
func NewReference(inChannels, dim, k int, rng *rand.Rand) (*AutoEncoder, error) {
	if inChannels <= 0 || dim <= 0 {
		return nil, fmt.Errorf("model: invalid channels %d or dim %d", inChannels, dim)
	}
	cb, err := vq.NewCodebook(k, dim, rng)
	if err != nil {
		return nil, err
	}
	return New(
		NewEncoder(inChannels, dim, rng),
		vq.NewQuantizer(cb),
		NewDecoder(dim, inChannels, rng),
	), nil
}
