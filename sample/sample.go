// Package sample renders reconstruction grids.
//
// Each epoch the trainer writes the first held-out images followed by their
// reconstructions as one PNG, NRow images per row with a Padding-pixel black
// border, after mapping [-1, 1] back to [0, 1].
package sample

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/tensor"
)

const (
	// NRow is the number of images per grid row.
	NRow = 8
	// Padding is the border between grid cells in pixels.
	Padding = 2
	// MaxImages caps how many held-out images are exported.
	MaxImages = 32
)

// Name returns the blob name of the sample grid for dataset.
func Name(dataset string) string {
	return "samples/reconstructions_" + dataset + ".png"
}

// Pair stacks inputs and reconstructions along the batch dimension and maps
// both from [-1, 1] to [0, 1]. For a 32-image batch the result is
// (64, C, H, W).
func Pair(x, recon *tensor.Tensor) (*tensor.Tensor, error) {
	if !x.SameShape(recon) {
		return nil, &tensor.ErrShapeMismatch{Op: "sample.Pair", Expected: x.Shape(), Actual: recon.Shape()}
	}
	out, err := tensor.Concat(x, recon)
	if err != nil {
		return nil, err
	}
	d := out.Data()
	for i, v := range d {
		d[i] = (v + 1) / 2
	}
	return out, nil
}

// Grid lays out an (N, C, H, W) batch with values in [0, 1] as an image with
// nrow cells per row. C must be 1 (grayscale) or 3 (RGB); values outside
// [0, 1] are clamped.
func Grid(x *tensor.Tensor, nrow, padding int) (image.Image, error) {
	if x.Rank() != 4 || (x.Dim(1) != 1 && x.Dim(1) != 3) {
		return nil, &tensor.ErrShapeMismatch{Op: "sample.Grid", Expected: []int{-1, 3, -1, -1}, Actual: x.Shape()}
	}
	if nrow <= 0 || padding < 0 {
		return nil, fmt.Errorf("sample: invalid layout nrow=%d padding=%d", nrow, padding)
	}
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)

	cols := min(nrow, n)
	rows := (n + nrow - 1) / nrow
	cellW, cellH := w+padding, h+padding
	bounds := image.Rect(0, 0, cols*cellW+padding, rows*cellH+padding)

	var img interface {
		image.Image
		Set(x, y int, c color.Color)
	}
	if c == 1 {
		img = image.NewGray(bounds)
	} else {
		img = image.NewRGBA(bounds)
	}

	data := x.Data()
	plane := h * w
	for k := 0; k < n; k++ {
		ox := (k%nrow)*cellW + padding
		oy := (k/nrow)*cellH + padding
		base := k * c * plane
		for yy := 0; yy < h; yy++ {
			for xx := 0; xx < w; xx++ {
				p := base + yy*w + xx
				if c == 1 {
					img.Set(ox+xx, oy+yy, color.Gray{Y: toByte(data[p])})
					continue
				}
				img.Set(ox+xx, oy+yy, color.RGBA{
					R: toByte(data[p]),
					G: toByte(data[p+plane]),
					B: toByte(data[p+2*plane]),
					A: 0xFF,
				})
			}
		}
	}
	if rgba, ok := img.(*image.RGBA); ok {
		// Padding stays opaque black.
		for i := 3; i < len(rgba.Pix); i += 4 {
			rgba.Pix[i] = 0xFF
		}
	}
	return img, nil
}

// toByte maps [0, 1] to [0, 255] with round-half-up.
func toByte(v float32) uint8 {
	f := v*255 + 0.5
	switch {
	case f != f || f < 0:
		return 0
	case f >= 255:
		return 255
	default:
		return uint8(f)
	}
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export renders x and recon as a reconstruction grid and writes it to
// store under name. It returns the number of images in the grid.
func Export(ctx context.Context, store blobstore.Store, name string, x, recon *tensor.Tensor) (int, error) {
	pair, err := Pair(x, recon)
	if err != nil {
		return 0, err
	}
	img, err := Grid(pair, NRow, Padding)
	if err != nil {
		return 0, err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return 0, err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return 0, fmt.Errorf("sample: write %s: %w", name, err)
	}
	return pair.Dim(0), nil
}
