// Package data provides image datasets and a prefetching batch loader.
//
// Datasets hand out single examples already normalized to [-1, 1]; the
// Loader collates them into (B, C, H, W) batches on a bounded pool of
// worker goroutines and delivers them in order.
package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/tensor"
)

// ErrUnknownDataset is returned by Open for an unsupported dataset name.
var ErrUnknownDataset = errors.New("data: unknown dataset")

// Dataset is a random-access collection of labelled images.
type Dataset interface {
	// Len returns the number of examples.
	Len() int
	// Shape returns the per-example channel count, height and width.
	Shape() (c, h, w int)
	// Example returns the i-th image as C*H*W values in [-1, 1] and its label.
	Example(i int) ([]float32, int, error)
}

// Normalize maps a pixel byte to [-1, 1] as (v/255 - 0.5) / 0.5.
func Normalize(v byte) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}

// Images is an in-memory dataset of 8-bit images stored channel-major.
type Images struct {
	c, h, w int
	pixels  []byte
	labels  []byte
}

var _ Dataset = (*Images)(nil)

// NewImages wraps raw CHW pixels and one label per image.
func NewImages(c, h, w int, pixels, labels []byte) (*Images, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("data: invalid image shape (%d, %d, %d)", c, h, w)
	}
	size := c * h * w
	if len(pixels)%size != 0 || len(pixels)/size != len(labels) {
		return nil, fmt.Errorf("data: %d pixel bytes do not hold %d images of %d bytes", len(pixels), len(labels), size)
	}
	return &Images{c: c, h: h, w: w, pixels: pixels, labels: labels}, nil
}

// Len implements Dataset.
func (d *Images) Len() int { return len(d.labels) }

// Shape implements Dataset.
func (d *Images) Shape() (int, int, int) { return d.c, d.h, d.w }

// Example implements Dataset.
func (d *Images) Example(i int) ([]float32, int, error) {
	if i < 0 || i >= d.Len() {
		return nil, 0, fmt.Errorf("data: example %d out of range [0, %d)", i, d.Len())
	}
	size := d.c * d.h * d.w
	src := d.pixels[i*size : (i+1)*size]
	out := make([]float32, size)
	for j, v := range src {
		out[j] = Normalize(v)
	}
	return out, int(d.labels[i]), nil
}

// Collate stacks examples [start, end) of ds into a (end-start, C, H, W)
// batch.
func Collate(ds Dataset, start, end int) (*tensor.Tensor, []int, error) {
	if start < 0 || end > ds.Len() || start >= end {
		return nil, nil, fmt.Errorf("data: invalid range [%d, %d) for %d examples", start, end, ds.Len())
	}
	c, h, w := ds.Shape()
	size := c * h * w
	x := tensor.New(end-start, c, h, w)
	labels := make([]int, end-start)
	dst := x.Data()
	for i := start; i < end; i++ {
		ex, label, err := ds.Example(i)
		if err != nil {
			return nil, nil, err
		}
		if len(ex) != size {
			return nil, nil, &tensor.ErrShapeMismatch{Op: "data.Collate", Expected: []int{c, h, w}, Actual: []int{len(ex)}}
		}
		copy(dst[(i-start)*size:], ex)
		labels[i-start] = label
	}
	return x, labels, nil
}

// Channels returns the channel count of a known dataset name.
func Channels(name string) (int, error) {
	switch name {
	case "MNIST", "FashionMNIST":
		return 1, nil
	case "CIFAR10":
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
}

// Open loads the train or test split of a named dataset from store, using
// the torchvision directory layout:
//
//	MNIST/raw/{train,t10k}-{images-idx3,labels-idx1}-ubyte[.gz]
//	FashionMNIST/raw/...
//	cifar-10-batches-bin/{data_batch_1..5,test_batch}.bin
func Open(ctx context.Context, store blobstore.Store, name string, train bool) (*Images, error) {
	switch name {
	case "MNIST", "FashionMNIST":
		return LoadMNIST(ctx, store, name+"/raw/", train)
	case "CIFAR10":
		return LoadCIFAR10(ctx, store, "cifar-10-batches-bin/", train)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
}
