package vqgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vqgo/data"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the hyperparameters of a training run.
type Config struct {
	// BatchSize is the number of images per step.
	BatchSize int
	// Epochs bounds the epoch loop: epochs 1 through Epochs-1 are run.
	Epochs int
	// PrintInterval is the number of steps between progress log lines.
	PrintInterval int

	// Dataset names the data set: CIFAR10, MNIST or FashionMNIST. It also
	// names the checkpoint and sample blobs.
	Dataset string
	// InputChannels must match the dataset.
	InputChannels int

	// Dim is the latent and codebook dimension D.
	Dim int
	// K is the number of codebook entries.
	K int
	// Lambda weighs the commitment loss.
	Lambda float64
	// LR is the Adam learning rate.
	LR float64

	// Device must be "cpu".
	Device string
	// Workers is the number of data loader goroutines.
	Workers int
	// Seed drives parameter initialization.
	Seed int64
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     32,
		Epochs:        100,
		PrintInterval: 100,
		Dataset:       "CIFAR10",
		InputChannels: 3,
		Dim:           256,
		K:             512,
		Lambda:        1,
		LR:            3e-4,
		Device:        "cpu",
		Workers:       4,
		Seed:          1,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.Epochs < 1:
		return fmt.Errorf("%w: epochs must be at least 1, got %d", ErrInvalidConfig, c.Epochs)
	case c.PrintInterval <= 0:
		return fmt.Errorf("%w: print interval must be positive, got %d", ErrInvalidConfig, c.PrintInterval)
	case c.Dim <= 0:
		return fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidConfig, c.Dim)
	case c.K <= 0:
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, c.K)
	case c.Lambda < 0:
		return fmt.Errorf("%w: lambda must not be negative, got %g", ErrInvalidConfig, c.Lambda)
	case c.LR <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, c.LR)
	case c.Device != "cpu":
		return fmt.Errorf("%w: unsupported device %q", ErrInvalidConfig, c.Device)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	case c.Dataset == "":
		return fmt.Errorf("%w: dataset is required", ErrInvalidConfig)
	}

	if ch, err := data.Channels(c.Dataset); err == nil && ch != c.InputChannels {
		return fmt.Errorf("%w: %s has %d channels, config has %d", ErrInvalidConfig, c.Dataset, ch, c.InputChannels)
	}
	if c.InputChannels <= 0 {
		return fmt.Errorf("%w: input channels must be positive, got %d", ErrInvalidConfig, c.InputChannels)
	}
	return nil
}
