package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/resource"
)

func testParams(seed int64) []*nn.Param {
	rng := rand.New(rand.NewSource(seed))
	params := []*nn.Param{
		nn.NewParam("encoder.0.weight", 4, 1, 4, 4),
		nn.NewParam("encoder.0.bias", 4),
		nn.NewParam("codebook.weight", 8, 4),
	}
	for _, p := range params {
		for i := range p.Value.Data() {
			p.Value.Data()[i] = rng.Float32()*2 - 1
		}
	}
	return params
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			src := testParams(1)
			data, err := Marshal(src, c)
			require.NoError(t, err)

			dst := testParams(2)
			require.NoError(t, Unmarshal(data, dst))
			for i := range src {
				assert.Equal(t, src[i].Value.Data(), dst[i].Value.Data(), src[i].Name)
			}
		})
	}
}

func TestCompressionShrinksRedundantData(t *testing.T) {
	p := nn.NewParam("codebook.weight", 512, 64)
	p.Value.Fill(0.5)

	raw, err := Marshal([]*nn.Param{p}, CompressionNone)
	require.NoError(t, err)
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		packed, err := Marshal([]*nn.Param{p}, c)
		require.NoError(t, err)
		assert.Less(t, len(packed), len(raw)/4, c.String())

		q := nn.NewParam("codebook.weight", 512, 64)
		require.NoError(t, Unmarshal(packed, []*nn.Param{q}))
		assert.Equal(t, p.Value.Data(), q.Value.Data())
	}
}

func TestUnmarshalErrors(t *testing.T) {
	data, err := Marshal(testParams(1), CompressionZSTD)
	require.NoError(t, err)

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xFF
		assert.ErrorIs(t, Unmarshal(bad, testParams(2)), ErrInvalidMagic)
	})
	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xFF
		assert.ErrorIs(t, Unmarshal(bad, testParams(2)), ErrChecksumMismatch)
	})
	t.Run("truncated", func(t *testing.T) {
		assert.ErrorIs(t, Unmarshal(data[:10], testParams(2)), ErrTruncated)
	})
	t.Run("shape", func(t *testing.T) {
		params := testParams(2)
		params[2] = nn.NewParam("codebook.weight", 16, 4)
		var pm *ErrParamMismatch
		require.ErrorAs(t, Unmarshal(data, params), &pm)
		assert.Equal(t, "codebook.weight", pm.Name)
		assert.Equal(t, []int{8, 4}, pm.Actual)
	})
	t.Run("missing", func(t *testing.T) {
		params := append(testParams(2), nn.NewParam("decoder.5.bias", 1))
		var pm *ErrParamMismatch
		require.ErrorAs(t, Unmarshal(data, params), &pm)
		assert.Equal(t, "decoder.5.bias", pm.Name)
		assert.Nil(t, pm.Actual)
	})
	t.Run("extra stored params are skipped", func(t *testing.T) {
		params := testParams(2)[1:]
		assert.NoError(t, Unmarshal(data, params))
	})
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	base := Name("MNIST")
	assert.Equal(t, "models/MNIST_autoencoder", base)

	src := testParams(1)
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	err := Save(ctx, store, base, src, Manifest{Dataset: "MNIST", Epoch: 3, Loss: 0.125, K: 8, D: 4, Lambda: 1, LR: 3e-4},
		WithCompression(CompressionLZ4), WithResourceController(rc))
	require.NoError(t, err)

	names, err := store.List(ctx, "models/")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/MNIST_autoencoder.json", "models/MNIST_autoencoder.vqc"}, names)

	dst := testParams(2)
	m, err := Load(ctx, store, base, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Epoch)
	assert.Equal(t, 0.125, m.Loss)
	assert.Equal(t, "lz4", m.Compression)
	assert.False(t, m.SavedAt.IsZero())
	require.Len(t, m.Params, 3)
	assert.Equal(t, ParamInfo{Name: "codebook.weight", Shape: []int{8, 4}}, m.Params[2])
	for i := range src {
		assert.Equal(t, src[i].Value.Data(), dst[i].Value.Data())
	}

	_, err = Load(ctx, store, Name("CIFAR10"), dst)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestSaveLoad_CompactManifest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	base := Name("FashionMNIST")

	require.NoError(t, Save(ctx, store, base, testParams(1), Manifest{Dataset: "FashionMNIST", Epoch: 1, Loss: 0.5},
		WithCodec(codec.GoJSON{}), WithCompression(CompressionNone)))

	raw, err := blobstore.ReadAll(ctx, store, base+ManifestExt)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "\n")

	// The default codec reads compact manifests too.
	m, err := LoadManifest(ctx, store, base)
	require.NoError(t, err)
	assert.Equal(t, "none", m.Compression)
	assert.Equal(t, "go-json", m.Codec)
	assert.Equal(t, 1, m.Epoch)
}

func TestStoreCommitStore(t *testing.T) {
	ctx := context.Background()
	cs := NewStoreCommitStore(blobstore.NewMemoryStore(), "models/MNIST_autoencoder.best")
	testCommitStore(t, ctx, cs)
}

func testCommitStore(t *testing.T, ctx context.Context, cs CommitStore) {
	_, err := cs.Latest(ctx)
	require.ErrorIs(t, err, ErrNoCommit)

	require.NoError(t, cs.Commit(ctx, Pointer{Path: "p", Epoch: 1, Loss: 0.5}))
	// Equal loss replaces, like the trainer's <= rule.
	require.NoError(t, cs.Commit(ctx, Pointer{Path: "p", Epoch: 2, Loss: 0.5}))
	assert.ErrorIs(t, cs.Commit(ctx, Pointer{Path: "p", Epoch: 3, Loss: 0.6}), ErrNotImproved)
	require.NoError(t, cs.Commit(ctx, Pointer{Path: "p", Epoch: 4, Loss: 0.25}))

	p, err := cs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Epoch)
	assert.Equal(t, 0.25, p.Loss)
	assert.Equal(t, "p", p.Path)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestDDBCommitStore(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	testCommitStore(t, ctx, NewDDBCommitStore(ddb, "vqgo-checkpoints", "run-a"))

	// Runs are isolated by id.
	other := NewDDBCommitStore(ddb, "vqgo-checkpoints", "run-b")
	_, err := other.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoCommit)
	require.NoError(t, other.Commit(ctx, Pointer{Path: "q", Epoch: 1, Loss: 9}))
}

func TestDDBCommitStore_Error(t *testing.T) {
	ddb := newMockDDBClient()
	ddb.failWith = errors.New("throttled")
	cs := NewDDBCommitStore(ddb, "t", "r")

	err := cs.Commit(context.Background(), Pointer{Loss: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotImproved)
}
