package data

import (
	"context"
	"fmt"

	"github.com/hupe1980/vqgo/blobstore"
)

const (
	cifarSide   = 32
	cifarRecord = 1 + 3*cifarSide*cifarSide
)

// LoadCIFAR10 reads the CIFAR-10 binary release from store. The train split
// concatenates data_batch_1..5.bin, the test split is test_batch.bin. Each
// record is one label byte followed by the red, green and blue 32x32 planes.
func LoadCIFAR10(ctx context.Context, store blobstore.Store, prefix string, train bool) (*Images, error) {
	files := []string{"test_batch.bin"}
	if train {
		files = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	}

	var pixels, labels []byte
	for _, f := range files {
		raw, err := blobstore.ReadAll(ctx, store, prefix+f)
		if err != nil {
			return nil, fmt.Errorf("data: read %s: %w", prefix+f, err)
		}
		if len(raw)%cifarRecord != 0 {
			return nil, fmt.Errorf("data: %s: size %d is not a multiple of %d", f, len(raw), cifarRecord)
		}
		for off := 0; off < len(raw); off += cifarRecord {
			labels = append(labels, raw[off])
			pixels = append(pixels, raw[off+1:off+cifarRecord]...)
		}
	}
	return NewImages(3, cifarSide, cifarSide, pixels, labels)
}
