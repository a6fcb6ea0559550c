package vqgo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/data"
	"github.com/hupe1980/vqgo/model"
	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/optim"
	"github.com/hupe1980/vqgo/tensor"
	"github.com/hupe1980/vqgo/testutil"
	"github.com/hupe1980/vqgo/vq"
)

// linearModel is a 1x1-conv encoder and decoder around a small codebook.
// Its reconstruction loss is quadratic in the encoder weights, which keeps
// central differences exact up to rounding.
type linearModel struct {
	enc, dec *nn.Conv2D
	cb       *vq.Codebook
	m        *model.AutoEncoder
}

func newLinearModel(t *testing.T, seed int64) linearModel {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	enc := nn.NewConv2D("encoder.0", 1, 2, 1, 1, 0, rng)
	dec := nn.NewConv2D("decoder.0", 2, 1, 1, 1, 0, rng)
	cb, err := vq.NewCodebook(4, 2, rng)
	require.NoError(t, err)
	return linearModel{enc: enc, dec: dec, cb: cb, m: model.New(enc, vq.NewQuantizer(cb), dec)}
}

func linearConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.Epochs = 3
	cfg.PrintInterval = 2
	cfg.Dataset = "MNIST"
	cfg.InputChannels = 1
	cfg.Dim = 2
	cfg.K = 4
	cfg.Workers = 2
	return cfg
}

func loaders(t *testing.T, cfg Config, nTrain, nTest, side int) (*data.Loader, *data.Loader) {
	t.Helper()
	train, err := data.NewSynthetic(nTrain, cfg.InputChannels, side, side, 11)
	require.NoError(t, err)
	test, err := data.NewSynthetic(nTest, cfg.InputChannels, side, side, 12)
	require.NoError(t, err)
	return data.NewLoader(train, cfg.BatchSize, data.WithWorkers(cfg.Workers)),
		data.NewLoader(test, cfg.BatchSize)
}

func newLinearTrainer(t *testing.T, lm linearModel, cfg Config, opts ...Option) *Trainer {
	t.Helper()
	train, test := loaders(t, cfg, 10, 6, 3)
	tr, err := NewTrainer(cfg, lm.m, train, test, opts...)
	require.NoError(t, err)
	return tr
}

func cloneValues(params []*nn.Param) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = slices.Clone(p.Value.Data())
	}
	return out
}

func cloneGrads(params []*nn.Param) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = slices.Clone(p.Grad.Data())
	}
	return out
}

func restoreValues(params []*nn.Param, values [][]float32) {
	for i, p := range params {
		copy(p.Value.Data(), values[i])
	}
}

func allZero(grads [][]float32) bool {
	for _, g := range grads {
		for _, v := range g {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

func TestStep_StraightThroughMatchesFiniteDifference(t *testing.T) {
	lm := newLinearModel(t, 3)
	rng := testutil.NewRNG(4)
	x := rng.UniformTensor(-1, 1, 2, 1, 3, 3)

	var (
		encGrads [][]float32
		offset   *tensor.Tensor
	)
	tr := newLinearTrainer(t, lm, linearConfig(), WithStageHook(func(s Stage, tr *Trainer) {
		if s != StageStraightThrough {
			return
		}
		encGrads = cloneGrads(tr.Model().EncoderParams())
		out := tr.Output()
		offset = out.ZQ.Clone()
		require.NoError(t, offset.AddScaled(-1, out.ZE))
	}))

	before := cloneValues(lm.m.Params())
	_, err := tr.Step(context.Background(), x)
	require.NoError(t, err)
	require.NotNil(t, encGrads)
	restoreValues(lm.m.Params(), before)

	// MSE(Dec(z_e + const(z_q - z_e)), x) as a function of the encoder only.
	loss := func() float64 {
		ze, err := lm.enc.Forward(x)
		require.NoError(t, err)
		require.NoError(t, ze.AddScaled(1, offset))
		recon, err := lm.dec.Forward(ze)
		require.NoError(t, err)
		l, err := tensor.MSE(recon, x)
		require.NoError(t, err)
		return l
	}

	const eps = 1e-2
	for pi, p := range lm.enc.Params() {
		want := make([]float32, p.Value.Len())
		d := p.Value.Data()
		for i := range d {
			orig := d[i]
			d[i] = orig + eps
			plus := loss()
			d[i] = orig - eps
			minus := loss()
			d[i] = orig
			want[i] = float32((plus - minus) / (2 * eps))
		}
		if diff := cmp.Diff(want, encGrads[pi], cmpopts.EquateApprox(1e-2, 1e-4)); diff != "" {
			t.Errorf("%s gradient mismatch (-finite difference +straight-through):\n%s", p.Name, diff)
		}
	}
}

type groupGrads struct {
	enc, cb, dec [][]float32
}

func captureGroups(tr *Trainer) groupGrads {
	m := tr.Model()
	return groupGrads{
		enc: cloneGrads(m.EncoderParams()),
		cb:  cloneGrads(m.CodebookParams()),
		dec: cloneGrads(m.DecoderParams()),
	}
}

func TestStep_GradientIsolation(t *testing.T) {
	lm := newLinearModel(t, 5)
	x := testutil.NewRNG(6).UniformTensor(-1, 1, 2, 1, 3, 3)

	snaps := map[Stage]groupGrads{}
	var (
		out          *model.Output
		wantCodeGrad [][]float32
	)
	tr := newLinearTrainer(t, lm, linearConfig(), WithStageHook(func(s Stage, tr *Trainer) {
		snaps[s] = captureGroups(tr)
		if s == StageForward {
			out = tr.Output()
			// Reference gradient computed on an independent copy of the table.
			rows := make([][]float32, lm.cb.K())
			for i := range rows {
				rows[i] = slices.Clone(lm.cb.Row(i))
			}
			ref, err := vq.NewCodebookFromRows(rows)
			require.NoError(t, err)
			require.NoError(t, vq.AccumulateCodebookGrad(ref, out.ZQ, out.ZE, out.Indices))
			wantCodeGrad = [][]float32{slices.Clone(ref.Param().Grad.Data())}
		}
	}))

	_, err := tr.Step(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, snaps, 6)

	recon := snaps[StageReconstruction]
	assert.True(t, allZero(recon.enc), "encoder untouched by decoder backward")
	assert.True(t, allZero(recon.cb), "codebook untouched by decoder backward")
	assert.False(t, allZero(recon.dec))

	st := snaps[StageStraightThrough]
	assert.True(t, allZero(st.cb), "straight-through leaves the codebook alone")
	assert.Equal(t, recon.dec, st.dec)
	assert.False(t, allZero(st.enc))

	code := snaps[StageCodebook]
	assert.Equal(t, st.enc, code.enc, "codebook loss must not reach the encoder")
	assert.Equal(t, st.dec, code.dec)
	assert.Equal(t, wantCodeGrad, code.cb)
	assert.False(t, allZero(code.cb))

	commit := snaps[StageCommitment]
	assert.Equal(t, code.cb, commit.cb, "commitment loss must not reach the codebook")
	assert.Equal(t, code.dec, commit.dec)
	assert.NotEqual(t, code.enc, commit.enc)

	update := snaps[StageUpdate]
	assert.True(t, allZero(update.enc))
	assert.True(t, allZero(update.cb))
	assert.True(t, allZero(update.dec))

	for _, v := range out.ZQ.Data() {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestStep_ZeroLambdaAddsNoCommitmentGradient(t *testing.T) {
	lm := newLinearModel(t, 5)
	x := testutil.NewRNG(6).UniformTensor(-1, 1, 2, 1, 3, 3)

	cfg := linearConfig()
	cfg.Lambda = 0
	snaps := map[Stage]groupGrads{}
	tr := newLinearTrainer(t, lm, cfg, WithStageHook(func(s Stage, tr *Trainer) {
		snaps[s] = captureGroups(tr)
	}))

	losses, err := tr.Step(context.Background(), x)
	require.NoError(t, err)
	assert.Zero(t, losses.Commit)
	assert.Equal(t, snaps[StageCodebook].enc, snaps[StageCommitment].enc)
}

func TestStep_Losses(t *testing.T) {
	lm := newLinearModel(t, 7)
	x := testutil.NewRNG(8).UniformTensor(-1, 1, 2, 1, 3, 3)

	var want Losses
	tr := newLinearTrainer(t, lm, linearConfig(), WithStageHook(func(s Stage, tr *Trainer) {
		if s != StageForward {
			return
		}
		out := tr.Output()
		var err error
		want.Recon, err = tensor.MSE(out.Recon, x)
		require.NoError(t, err)
		want.VQ, err = tensor.MSE(out.ZQ, out.ZE)
		require.NoError(t, err)
		want.Commit = want.VQ // λ = 1
	}))

	got, err := tr.Step(context.Background(), x)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("losses (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, tr.Optimizer().(*optim.Adam).Steps())
	assert.Positive(t, tr.Usage().Used())
}

func TestStep_NonFinite(t *testing.T) {
	lm := newLinearModel(t, 1)
	tr := newLinearTrainer(t, lm, linearConfig())

	x := tensor.New(1, 1, 2, 2)
	x.Data()[0] = float32(math.NaN())
	before := cloneValues(lm.m.Params())

	_, err := tr.Step(context.Background(), x)
	require.ErrorIs(t, err, ErrNonFinite)
	var se *ErrStage
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageReconstruction, se.Stage)

	assert.Equal(t, 0, tr.Optimizer().(*optim.Adam).Steps())
	assert.Equal(t, before, cloneValues(lm.m.Params()))
}

func TestStep_ClearsStaleGradients(t *testing.T) {
	clean, dirty := newLinearModel(t, 5), newLinearModel(t, 5)
	trClean := newLinearTrainer(t, clean, linearConfig())
	trDirty := newLinearTrainer(t, dirty, linearConfig())

	// Leftovers of a step that failed after its backward passes.
	for _, p := range dirty.m.Params() {
		p.Grad.Fill(1e3)
	}

	x := testutil.NewRNG(6).UniformTensor(-1, 1, 2, 1, 3, 3)
	_, err := trClean.Step(context.Background(), x)
	require.NoError(t, err)
	_, err = trDirty.Step(context.Background(), x)
	require.NoError(t, err)

	assert.Equal(t, cloneValues(clean.m.Params()), cloneValues(dirty.m.Params()))
	assert.True(t, allZero(cloneGrads(dirty.m.Params())))
}

func TestStep_ShapeMismatch(t *testing.T) {
	lm := newLinearModel(t, 1)
	tr := newLinearTrainer(t, lm, linearConfig())

	_, err := tr.Step(context.Background(), tensor.New(1, 3, 2, 2))
	var sm *ErrShapeMismatch
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, "Conv2D", sm.Op)
	assert.Equal(t, []int{1, 3, 2, 2}, sm.Actual)

	var inner *tensor.ErrShapeMismatch
	assert.ErrorAs(t, err, &inner)

	var se *ErrStage
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageForward, se.Stage)
}

func TestStep_Canceled(t *testing.T) {
	lm := newLinearModel(t, 1)
	tr := newLinearTrainer(t, lm, linearConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Step(ctx, tensor.New(1, 1, 2, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_Idempotent(t *testing.T) {
	lm := newLinearModel(t, 9)
	tr := newLinearTrainer(t, lm, linearConfig())
	ctx := context.Background()

	_, err := tr.Step(ctx, testutil.NewRNG(1).UniformTensor(-1, 1, 2, 1, 3, 3))
	require.NoError(t, err)

	values := cloneValues(lm.m.Params())
	steps := tr.Optimizer().(*optim.Adam).Steps()
	used := tr.Usage().Used()

	first, err := tr.Evaluate(ctx)
	require.NoError(t, err)
	second, err := tr.Evaluate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Recon, second.Recon)
	assert.Equal(t, first.VQ, second.VQ)
	assert.Equal(t, 2, first.Batches)
	assert.Equal(t, values, cloneValues(lm.m.Params()))
	assert.True(t, allZero(cloneGrads(lm.m.Params())))
	assert.Equal(t, steps, tr.Optimizer().(*optim.Adam).Steps())
	assert.Equal(t, used, tr.Usage().Used())
}

func TestDecideCheckpoint_Monotonic(t *testing.T) {
	ctx := context.Background()
	lm := newLinearModel(t, 2)
	store := blobstore.NewMemoryStore()
	commits := checkpoint.NewStoreCommitStore(store, "models/MNIST_autoencoder.best")
	metrics := &BasicMetricsCollector{}
	tr := newLinearTrainer(t, lm, linearConfig(),
		WithStore(store),
		WithCommitStore(commits),
		WithMetricsCollector(metrics),
		WithCompression(checkpoint.CompressionLZ4),
	)
	assert.Equal(t, NewState(), tr.State())

	losses := []float64{0.5, 0.7, 0.5, 0.3, 0.4}
	var saved []bool
	for i, loss := range losses {
		epoch := i + 1
		lm.cb.Param().Value.Fill(float32(epoch))
		ok, err := tr.decideCheckpoint(ctx, epoch, loss)
		require.NoError(t, err)
		saved = append(saved, ok)
	}
	assert.Equal(t, []bool{true, false, true, true, false}, saved)

	st := tr.State()
	assert.Equal(t, 0.3, st.BestLoss)
	assert.Equal(t, 4, st.LastSaved)
	assert.Equal(t, []SaveRecord{{1, 0.5}, {3, 0.5}, {4, 0.3}}, st.Saves)
	for i := 1; i < len(st.Saves); i++ {
		assert.LessOrEqual(t, st.Saves[i].Loss, st.Saves[i-1].Loss)
	}

	// The persisted checkpoint is the last saved epoch.
	restored := newLinearModel(t, 99)
	m, err := checkpoint.Load(ctx, store, checkpoint.Name("MNIST"), restored.m.Params())
	require.NoError(t, err)
	assert.Equal(t, 4, m.Epoch)
	assert.Equal(t, "lz4", m.Compression)
	for _, v := range restored.cb.All().Data() {
		assert.Equal(t, float32(4), v)
	}

	p, err := commits.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Epoch)
	assert.Equal(t, "models/MNIST_autoencoder.vqc", p.Path)

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.CheckpointSaves)
	assert.Equal(t, int64(2), stats.CheckpointSkips)
}

func TestDecideCheckpoint_FirstEpochAlwaysSaves(t *testing.T) {
	lm := newLinearModel(t, 2)
	tr := newLinearTrainer(t, lm, linearConfig())

	ok, err := tr.decideCheckpoint(context.Background(), 1, InitialBestLoss)
	require.NoError(t, err)
	assert.True(t, ok, "ties save")

	ok, err = tr.decideCheckpoint(context.Background(), 2, math.NaN())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecideCheckpoint_CommitStoreHoldsBetter(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	commits := checkpoint.NewStoreCommitStore(store, "best")
	require.NoError(t, commits.Commit(ctx, checkpoint.Pointer{Path: "other", Epoch: 9, Loss: 0.01}))

	lm := newLinearModel(t, 2)
	tr := newLinearTrainer(t, lm, linearConfig(), WithStore(store), WithCommitStore(commits))
	ok, err := tr.decideCheckpoint(ctx, 1, 0.5)
	require.NoError(t, err)
	assert.True(t, ok, "local state still advances")

	p, err := commits.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, p.Epoch)
}

func TestNewTrainer_Invalid(t *testing.T) {
	lm := newLinearModel(t, 1)
	cfg := linearConfig()
	train, test := loaders(t, cfg, 4, 4, 3)

	_, err := NewTrainer(cfg, nil, train, test)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTrainer(cfg, lm.m, train, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := cfg
	bad.K = 8
	_, err = NewTrainer(bad, lm.m, train, test)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = cfg
	bad.Device = "cuda"
	_, err = NewTrainer(bad, lm.m, train, test)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStageString(t *testing.T) {
	names := []string{"forward", "reconstruction", "straight-through", "codebook", "commitment", "update"}
	for i, name := range names {
		assert.Equal(t, name, Stage(i+1).String())
	}
	assert.Equal(t, "unknown", Stage(0).String())
	assert.True(t, errors.Is(&ErrStage{Stage: StageUpdate, cause: ErrNonFinite}, ErrNonFinite))
}
