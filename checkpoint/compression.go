package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload codec of a checkpoint file.
type Compression uint8

const (
	// CompressionNone stores parameters uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 blocks (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD blocks (better ratio, the default).
	CompressionZSTD Compression = 2
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("checkpoint: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Each block is [uncompressed u32][compressed u32][data]. A compressed size
// of 0 marks a block stored raw.
const (
	blockHeaderSize = 8
	blockSize       = 1 << 20
)

var errCorruptBlock = errors.New("checkpoint: corrupt payload block")

// compressPayload splits data into blocks and compresses each one.
func compressPayload(data []byte, c Compression) ([]byte, error) {
	out := make([]byte, 0, len(data)/2+blockHeaderSize)
	for len(data) > 0 {
		n := min(len(data), blockSize)
		var err error
		if out, err = appendBlock(out, data[:n], c); err != nil {
			return nil, err
		}
		data = data[n:]
	}
	return out, nil
}

func appendBlock(dst, block []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(block, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("checkpoint: unsupported compression %s", c)
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(block)))

	// Not worth it below a 10% saving.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(block))*0.9 {
		dst = append(dst, hdr[:]...)
		return append(dst, block...), nil
	}
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

// decompressPayload reverses compressPayload. size is the expected total
// uncompressed length.
func decompressPayload(data []byte, c Compression, size uint64) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(data) > 0 {
		if len(data) < blockHeaderSize {
			return nil, errCorruptBlock
		}
		raw := binary.LittleEndian.Uint32(data[0:])
		packed := binary.LittleEndian.Uint32(data[4:])
		data = data[blockHeaderSize:]

		if packed == 0 {
			if uint64(len(data)) < uint64(raw) {
				return nil, errCorruptBlock
			}
			out = append(out, data[:raw]...)
			data = data[raw:]
			continue
		}

		if uint64(len(data)) < uint64(packed) {
			return nil, errCorruptBlock
		}
		block, err := decompressBlock(data[:packed], c, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		data = data[packed:]
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: %d bytes, want %d", io.ErrUnexpectedEOF, len(out), size)
	}
	return out, nil
}

func decompressBlock(data []byte, c Compression, raw uint32) ([]byte, error) {
	result := make([]byte, raw)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(data, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != raw {
			return nil, errors.New("checkpoint: decompressed size mismatch")
		}
		return result, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(data, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != raw {
			return nil, errors.New("checkpoint: decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("checkpoint: unsupported compression %s", c)
	}
}
