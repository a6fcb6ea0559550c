package vqgo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/data"
	"github.com/hupe1980/vqgo/model"
	"github.com/hupe1980/vqgo/optim"
	"github.com/hupe1980/vqgo/resource"
	"github.com/hupe1980/vqgo/tensor"
	"github.com/hupe1980/vqgo/vq"
)

// InitialBestLoss is the best-loss sentinel of a fresh run. Any real
// validation loss compares lower.
const InitialBestLoss = 999

// Losses are the three objectives of one step.
type Losses struct {
	Recon  float64
	VQ     float64
	Commit float64
}

// SaveRecord is one saved checkpoint.
type SaveRecord struct {
	Epoch int
	Loss  float64
}

// State is the epoch-level training state.
type State struct {
	// Epoch is the last completed epoch, 0 before the first.
	Epoch int
	// BestLoss is the lowest validation reconstruction loss saved so far.
	BestLoss float64
	// LastSaved is the epoch of the current checkpoint, -1 if none.
	LastSaved int
	// Saves lists every checkpoint write in order. Losses never increase.
	Saves []SaveRecord
}

// NewState returns the state of a fresh run.
func NewState() State {
	return State{
		BestLoss:  InitialBestLoss,
		LastSaved: -1,
	}
}

// Trainer owns the model, the optimizer and the epoch state of one run.
// It is not safe for concurrent use.
type Trainer struct {
	cfg     Config
	model   *model.AutoEncoder
	opt     optim.Optimizer
	train   *data.Loader
	test    *data.Loader
	usage   *vq.Usage
	state   State
	rng     *rand.Rand
	out     *model.Output
	seeded  bool
	store   blobstore.Store
	commits checkpoint.CommitStore
	rc      *resource.Controller

	logger      *Logger
	metrics     MetricsCollector
	hook        StageHook
	kmeansIters int
	compression checkpoint.Compression
	manifest    codec.Codec
}

// NewTrainer creates a trainer for m. train feeds the training steps and
// test the validation pass and the sample grid.
func NewTrainer(cfg Config, m *model.AutoEncoder, train, test *data.Loader, optFns ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil || train == nil || test == nil {
		return nil, fmt.Errorf("%w: model and both loaders are required", ErrInvalidConfig)
	}
	if cb := m.Codebook(); cb.K() != cfg.K || cb.D() != cfg.Dim {
		return nil, fmt.Errorf("%w: codebook is %dx%d, config wants %dx%d", ErrInvalidConfig, cb.K(), cb.D(), cfg.K, cfg.Dim)
	}

	opt, err := optim.NewAdam(m.Params(), optim.DefaultAdamConfig(cfg.LR))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	o := applyOptions(optFns)
	return &Trainer{
		cfg:         cfg,
		model:       m,
		opt:         opt,
		train:       train,
		test:        test,
		usage:       vq.NewUsage(cfg.K),
		state:       NewState(),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		store:       o.store,
		commits:     o.commitStore,
		rc:          o.rc,
		logger:      o.logger.WithDataset(cfg.Dataset),
		metrics:     o.metricsCollector,
		hook:        o.stageHook,
		kmeansIters: o.kmeansIters,
		compression: o.compression,
		manifest:    o.manifestCodec,
	}, nil
}

// Config returns the run configuration.
func (t *Trainer) Config() Config { return t.cfg }

// Model returns the trained autoencoder.
func (t *Trainer) Model() *model.AutoEncoder { return t.model }

// Optimizer returns the parameter optimizer.
func (t *Trainer) Optimizer() optim.Optimizer { return t.opt }

// Usage returns the codebook usage of the current epoch.
func (t *Trainer) Usage() *vq.Usage { return t.usage }

// Store returns the checkpoint and sample store.
func (t *Trainer) Store() blobstore.Store { return t.store }

// Output returns the forward output of the step in progress, or of the last
// step. Stage hooks use it to inspect z_e, z_q and the assignment.
func (t *Trainer) Output() *model.Output { return t.out }

// State returns a copy of the epoch state.
func (t *Trainer) State() State {
	s := t.state
	s.Saves = slices.Clone(t.state.Saves)
	return s
}

func (t *Trainer) after(stage Stage) {
	if t.hook != nil {
		t.hook(stage, t)
	}
}

// Step runs one training step on the batch x.
//
// The stages run strictly in order:
//
//  1. forward x → (x̃, z_e, z_q)
//  2. MSE(x̃, x) backward through the decoder, yielding grad(z_q)
//  3. clear the codebook gradient, pass grad(z_q) to z_e unchanged, encoder backward
//  4. MSE(z_q, sg(z_e)) into the codebook rows only
//  5. λ·MSE(sg(z_q), z_e) into the encoder only
//  6. optimizer step over all parameters, clear all gradients
//
// A non-finite loss aborts the step with ErrNonFinite before the optimizer
// runs. Gradients left behind by an aborted step are cleared when the next
// step starts.
func (t *Trainer) Step(ctx context.Context, x *tensor.Tensor) (Losses, error) {
	if err := ctx.Err(); err != nil {
		return Losses{}, err
	}
	t.opt.ZeroGrad()
	var losses Losses

	out, err := t.model.Forward(x)
	if err != nil {
		return losses, stageError(StageForward, err)
	}
	t.out = out
	t.after(StageForward)

	losses.Recon, err = tensor.MSE(out.Recon, x)
	if err != nil {
		return losses, stageError(StageReconstruction, err)
	}
	if err := checkFinite(StageReconstruction, "reconstruction", losses.Recon); err != nil {
		return losses, err
	}
	gradRecon, err := tensor.MSEGrad(out.Recon, x, 1)
	if err != nil {
		return losses, stageError(StageReconstruction, err)
	}
	gradZq, err := t.model.BackwardDecoder(gradRecon)
	if err != nil {
		return losses, stageError(StageReconstruction, err)
	}
	t.after(StageReconstruction)

	cb := t.model.Codebook()
	cb.Param().ZeroGrad()
	if err := t.model.BackwardEncoder(vq.StraightThrough(gradZq)); err != nil {
		return losses, stageError(StageStraightThrough, err)
	}
	t.after(StageStraightThrough)

	losses.VQ, err = vq.CodebookLoss(out.ZQ, out.ZE)
	if err != nil {
		return losses, stageError(StageCodebook, err)
	}
	if err := checkFinite(StageCodebook, "vq", losses.VQ); err != nil {
		return losses, err
	}
	if err := vq.AccumulateCodebookGrad(cb, out.ZQ, out.ZE, out.Indices); err != nil {
		return losses, stageError(StageCodebook, err)
	}
	t.after(StageCodebook)

	losses.Commit, err = vq.CommitmentLoss(out.ZE, out.ZQ, t.cfg.Lambda)
	if err != nil {
		return losses, stageError(StageCommitment, err)
	}
	if err := checkFinite(StageCommitment, "commitment", losses.Commit); err != nil {
		return losses, err
	}
	gradCommit, err := vq.CommitmentGrad(out.ZE, out.ZQ, t.cfg.Lambda)
	if err != nil {
		return losses, stageError(StageCommitment, err)
	}
	if err := t.model.BackwardEncoder(gradCommit); err != nil {
		return losses, stageError(StageCommitment, err)
	}
	t.after(StageCommitment)

	if err := t.opt.Step(); err != nil {
		return losses, stageError(StageUpdate, err)
	}
	t.opt.ZeroGrad()
	t.after(StageUpdate)

	t.usage.Observe(out.Indices)
	return losses, nil
}

func checkFinite(stage Stage, name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ErrStage{Stage: stage, cause: fmt.Errorf("%w: %s loss is %v", ErrNonFinite, name, v)}
	}
	return nil
}

// Resume restores the model and the best-loss state from the checkpoint in
// the store. It reports false when there is no checkpoint. Optimizer
// moments are not persisted and start from zero.
func (t *Trainer) Resume(ctx context.Context) (bool, error) {
	base := checkpoint.Name(t.cfg.Dataset)
	m, err := checkpoint.Load(ctx, t.store, base, t.model.Params(), checkpoint.WithCodec(t.manifest))
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, translateError(err)
	}

	t.state = State{
		Epoch:     m.Epoch,
		BestLoss:  m.Loss,
		LastSaved: m.Epoch,
		Saves:     []SaveRecord{{Epoch: m.Epoch, Loss: m.Loss}},
	}
	t.seeded = true

	if t.commits != nil {
		p, err := t.commits.Latest(ctx)
		switch {
		case errors.Is(err, checkpoint.ErrNoCommit):
		case err != nil:
			return false, err
		case p.Loss < t.state.BestLoss:
			t.logger.WarnContext(ctx, "commit store holds a better checkpoint than the store",
				"commit_epoch", p.Epoch,
				"commit_loss", p.Loss,
				"path", p.Path,
			)
			t.state.BestLoss = p.Loss
		}
	}

	t.logger.InfoContext(ctx, "resumed from checkpoint",
		"epoch", m.Epoch,
		"loss", m.Loss,
		"saved_at", m.SavedAt,
	)
	return true, nil
}
