package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/hupe1980/vqgo/blobstore"
)

const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
)

// ErrInvalidIDX is returned for a malformed IDX file.
var ErrInvalidIDX = errors.New("data: invalid IDX file")

// LoadMNIST reads an MNIST-format split (MNIST, FashionMNIST) from store.
// Each file is looked up as-is and then with a ".gz" suffix.
func LoadMNIST(ctx context.Context, store blobstore.Store, prefix string, train bool) (*Images, error) {
	split := "t10k"
	if train {
		split = "train"
	}

	raw, err := readMaybeGzip(ctx, store, prefix+split+"-images-idx3-ubyte")
	if err != nil {
		return nil, err
	}
	n, rows, cols, pixels, err := parseIDXImages(raw)
	if err != nil {
		return nil, err
	}

	raw, err = readMaybeGzip(ctx, store, prefix+split+"-labels-idx1-ubyte")
	if err != nil {
		return nil, err
	}
	labels, err := parseIDXLabels(raw)
	if err != nil {
		return nil, err
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d images but %d labels", ErrInvalidIDX, n, len(labels))
	}
	return NewImages(1, rows, cols, pixels, labels)
}

func readMaybeGzip(ctx context.Context, store blobstore.Store, name string) ([]byte, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}

	data, err = blobstore.ReadAll(ctx, store, name+".gz")
	if err != nil {
		return nil, fmt.Errorf("data: read %s: %w", name, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("data: gunzip %s: %w", name, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func parseIDXImages(b []byte) (n, rows, cols int, pixels []byte, err error) {
	if len(b) < 16 || binary.BigEndian.Uint32(b) != idxImagesMagic {
		return 0, 0, 0, nil, fmt.Errorf("%w: bad image header", ErrInvalidIDX)
	}
	n = int(binary.BigEndian.Uint32(b[4:]))
	rows = int(binary.BigEndian.Uint32(b[8:]))
	cols = int(binary.BigEndian.Uint32(b[12:]))
	if len(b)-16 != n*rows*cols {
		return 0, 0, 0, nil, fmt.Errorf("%w: want %d pixel bytes, have %d", ErrInvalidIDX, n*rows*cols, len(b)-16)
	}
	return n, rows, cols, b[16:], nil
}

func parseIDXLabels(b []byte) ([]byte, error) {
	if len(b) < 8 || binary.BigEndian.Uint32(b) != idxLabelsMagic {
		return nil, fmt.Errorf("%w: bad label header", ErrInvalidIDX)
	}
	n := int(binary.BigEndian.Uint32(b[4:]))
	if len(b)-8 != n {
		return nil, fmt.Errorf("%w: want %d labels, have %d", ErrInvalidIDX, n, len(b)-8)
	}
	return b[8:], nil
}
