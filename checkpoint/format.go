package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/vqgo/internal/hash"
	"github.com/hupe1980/vqgo/nn"
)

const (
	// MagicNumber identifies checkpoint files (ASCII: "VQC1").
	MagicNumber = 0x56514331
	// Version is the current file format version.
	Version = 1

	headerSize = 32
)

var (
	ErrInvalidMagic     = errors.New("checkpoint: invalid magic number")
	ErrInvalidVersion   = errors.New("checkpoint: unsupported version")
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")
	ErrTruncated        = errors.New("checkpoint: truncated file")
)

// ErrParamMismatch reports a stored parameter that does not fit the model.
type ErrParamMismatch struct {
	Name     string
	Expected []int
	Actual   []int
}

func (e *ErrParamMismatch) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("checkpoint: parameter %q missing", e.Name)
	}
	return fmt.Sprintf("checkpoint: parameter %q shape %v, model expects %v", e.Name, e.Actual, e.Expected)
}

// fileHeader is the fixed 32-byte prefix of a checkpoint file.
//
//	0  magic        u32
//	4  version      u32
//	8  compression  u8 (+3 pad)
//	12 paramCount   u32
//	16 payloadSize  u64 (uncompressed)
//	24 checksum     u32 (CRC32C of the stored payload)
//	28 reserved     u32
type fileHeader struct {
	Compression Compression
	ParamCount  uint32
	PayloadSize uint64
	Checksum    uint32
}

func (h fileHeader) marshal() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:], MagicNumber)
	binary.LittleEndian.PutUint32(b[4:], Version)
	b[8] = byte(h.Compression)
	binary.LittleEndian.PutUint32(b[12:], h.ParamCount)
	binary.LittleEndian.PutUint64(b[16:], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[24:], h.Checksum)
	return b
}

func parseHeader(b []byte) (fileHeader, error) {
	if len(b) < headerSize {
		return fileHeader{}, ErrTruncated
	}
	if binary.LittleEndian.Uint32(b[0:]) != MagicNumber {
		return fileHeader{}, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != Version {
		return fileHeader{}, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
	}
	return fileHeader{
		Compression: Compression(b[8]),
		ParamCount:  binary.LittleEndian.Uint32(b[12:]),
		PayloadSize: binary.LittleEndian.Uint64(b[16:]),
		Checksum:    binary.LittleEndian.Uint32(b[24:]),
	}, nil
}

// Marshal encodes params into a checkpoint file.
//
// Each parameter is stored as
// [nameLen u16][name][rank u8][dims u32...][values f32...], little endian.
func Marshal(params []*nn.Param, c Compression) ([]byte, error) {
	var size int
	for _, p := range params {
		size += 2 + len(p.Name) + 1 + 4*p.Value.Rank() + 4*p.Value.Len()
	}

	payload := make([]byte, 0, size)
	for _, p := range params {
		if len(p.Name) > math.MaxUint16 || p.Value.Rank() > math.MaxUint8 {
			return nil, fmt.Errorf("checkpoint: parameter %q cannot be encoded", p.Name)
		}
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(p.Name)))
		payload = append(payload, p.Name...)
		payload = append(payload, byte(p.Value.Rank()))
		for _, d := range p.Value.Shape() {
			payload = binary.LittleEndian.AppendUint32(payload, uint32(d))
		}
		for _, v := range p.Value.Data() {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}
	}

	stored, err := compressPayload(payload, c)
	if err != nil {
		return nil, err
	}

	hdr := fileHeader{
		Compression: c,
		ParamCount:  uint32(len(params)),
		PayloadSize: uint64(len(payload)),
		Checksum:    hash.CRC32C(stored),
	}
	return append(hdr.marshal(), stored...), nil
}

// Unmarshal decodes a checkpoint file into params, matching by name.
// Every param must be present with an identical shape. Stored entries that
// the model does not have are ignored.
func Unmarshal(data []byte, params []*nn.Param) error {
	hdr, err := parseHeader(data)
	if err != nil {
		return err
	}
	stored := data[headerSize:]
	if hash.CRC32C(stored) != hdr.Checksum {
		return ErrChecksumMismatch
	}
	payload, err := decompressPayload(stored, hdr.Compression, hdr.PayloadSize)
	if err != nil {
		return err
	}

	byName := make(map[string]*nn.Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	seen := make(map[string]bool, len(params))

	r := reader{buf: payload}
	for i := uint32(0); i < hdr.ParamCount; i++ {
		name := string(r.bytes(int(r.u16())))
		rank := int(r.u8())
		shape := make([]int, rank)
		n := 1
		for j := range shape {
			shape[j] = int(r.u32())
			n *= shape[j]
		}
		if r.err != nil || n < 0 || n > r.remaining()/4 {
			return ErrTruncated
		}

		p, ok := byName[name]
		if !ok {
			r.skip(4 * n)
			continue
		}
		if !slices.Equal(p.Value.Shape(), shape) {
			return &ErrParamMismatch{Name: name, Expected: p.Value.Shape(), Actual: shape}
		}
		dst := p.Value.Data()
		for j := range dst {
			dst[j] = math.Float32frombits(r.u32())
		}
		seen[name] = true
	}
	if r.err != nil {
		return ErrTruncated
	}

	for _, p := range params {
		if !seen[p.Name] {
			return &ErrParamMismatch{Name: p.Name, Expected: p.Value.Shape()}
		}
	}
	return nil
}

// reader is a bounds-checked little-endian cursor. After the first short
// read it returns zeros and keeps err set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n > r.remaining() {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { r.bytes(n) }

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
