// Package checkpoint persists model parameters.
//
// A checkpoint is two blobs sharing a base name:
//
//	models/<dataset>_autoencoder.vqc   parameters (binary, CRC32C, zstd/lz4)
//	models/<dataset>_autoencoder.json  manifest (epoch, loss, hyperparameters)
//
// Both are overwritten in place on every save. A CommitStore records which
// epoch holds the best loss so that concurrent or resumed runs agree on it.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/resource"
)

const (
	// Ext is the extension of the parameter blob.
	Ext = ".vqc"
	// ManifestExt is the extension of the manifest blob.
	ManifestExt = ".json"
)

// ParamInfo describes one stored parameter.
type ParamInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Manifest describes a saved checkpoint.
type Manifest struct {
	Dataset     string      `json:"dataset"`
	Epoch       int         `json:"epoch"`
	Loss        float64     `json:"loss"`
	K           int         `json:"k"`
	D           int         `json:"d"`
	Lambda      float64     `json:"lambda"`
	LR          float64     `json:"lr"`
	Compression string      `json:"compression"`
	Codec       string      `json:"codec"`
	Params      []ParamInfo `json:"params"`
	SavedAt     time.Time   `json:"saved_at"`
}

// Name returns the base blob name for a dataset, without extension.
func Name(dataset string) string {
	return "models/" + dataset + "_autoencoder"
}

type options struct {
	compression Compression
	codec       codec.Codec
	rc          *resource.Controller
}

// Option configures Save and Load.
type Option func(*options)

// WithCompression selects the payload compression. Default: zstd.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithCodec selects the manifest codec. Default: codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithResourceController throttles uploads through rc's IO budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

func applyOptions(opts []Option) options {
	o := options{
		compression: CompressionZSTD,
		codec:       codec.Default,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Save writes params and the manifest under base. The parameter blob is
// written first so that a manifest never points at missing parameters.
func Save(ctx context.Context, store blobstore.Store, base string, params []*nn.Param, m Manifest, opts ...Option) error {
	o := applyOptions(opts)

	data, err := Marshal(params, o.compression)
	if err != nil {
		return err
	}

	m.Compression = o.compression.String()
	m.Codec = o.codec.Name()
	m.Params = make([]ParamInfo, len(params))
	for i, p := range params {
		m.Params[i] = ParamInfo{Name: p.Name, Shape: p.Value.Shape()}
	}
	if m.SavedAt.IsZero() {
		m.SavedAt = time.Now().UTC()
	}
	manifest, err := o.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("checkpoint: encode manifest: %w", err)
	}

	if err := o.rc.AcquireIO(ctx, len(data)+len(manifest)); err != nil {
		return err
	}
	if err := store.Put(ctx, base+Ext, data); err != nil {
		return fmt.Errorf("checkpoint: write parameters: %w", err)
	}
	if err := store.Put(ctx, base+ManifestExt, manifest); err != nil {
		return fmt.Errorf("checkpoint: write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest under base.
func LoadManifest(ctx context.Context, store blobstore.Store, base string, opts ...Option) (*Manifest, error) {
	o := applyOptions(opts)

	data, err := blobstore.ReadAll(ctx, store, base+ManifestExt)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := o.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("checkpoint: decode manifest: %w", err)
	}
	return &m, nil
}

// Load restores params from the checkpoint under base and returns its
// manifest. A shape mismatch may leave params partially overwritten.
func Load(ctx context.Context, store blobstore.Store, base string, params []*nn.Param, opts ...Option) (*Manifest, error) {
	m, err := LoadManifest(ctx, store, base, opts...)
	if err != nil {
		return nil, err
	}

	data, err := blobstore.ReadAll(ctx, store, base+Ext)
	if err != nil {
		return nil, err
	}
	if err := Unmarshal(data, params); err != nil {
		return nil, err
	}
	return m, nil
}
