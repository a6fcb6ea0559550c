package vqgo

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/data"
	"github.com/hupe1980/vqgo/sample"
	"github.com/hupe1980/vqgo/tensor"
	"github.com/hupe1980/vqgo/vq"
)

// kmeansSamplesPerCode bounds how many latent vectors per codebook entry
// are gathered for k-means initialization.
const kmeansSamplesPerCode = 16

// EvalResult is the outcome of a validation pass.
type EvalResult struct {
	// Recon is the mean reconstruction loss over batches.
	Recon float64
	// VQ is the mean codebook loss over batches.
	VQ       float64
	Batches  int
	Duration time.Duration
}

// Run trains epochs State().Epoch+1 through Epochs-1. Every epoch trains,
// validates, decides whether to checkpoint and exports a sample grid. There
// is no early stopping; the first error ends the run.
func (t *Trainer) Run(ctx context.Context) (State, error) {
	if err := t.initCodebook(ctx); err != nil {
		return t.State(), err
	}

	for epoch := t.state.Epoch + 1; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return t.State(), err
		}
		t.logger.LogEpoch(ctx, epoch, t.cfg.Epochs)

		if _, err := t.TrainEpoch(ctx, epoch); err != nil {
			return t.State(), err
		}

		res, err := t.Evaluate(ctx)
		t.logger.LogEvaluation(ctx, res, err)
		if err != nil {
			return t.State(), err
		}

		if _, err := t.decideCheckpoint(ctx, epoch, res.Recon); err != nil {
			return t.State(), err
		}

		if _, err := t.ExportSamples(ctx); err != nil {
			return t.State(), err
		}

		t.state.Epoch = epoch
	}
	return t.State(), nil
}

func drain(ch <-chan data.Batch) {
	for b := range ch {
		b.Release()
	}
}

// TrainEpoch runs one pass over the training data and returns the mean
// losses. Every PrintInterval steps it logs the running mean of the last
// PrintInterval steps.
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int) (Losses, error) {
	ctx, cancel := context.WithCancel(ctx)
	batches := t.train.Batches(ctx)
	defer func() {
		cancel()
		drain(batches)
	}()

	logger := t.logger.WithEpoch(epoch)
	t.usage.Reset()

	total := t.train.Dataset().Len()
	var (
		sum, window Losses
		steps, n    int
	)
	for b := range batches {
		start := time.Now()
		losses, err := t.Step(ctx, b.X)
		b.Release()
		if err != nil {
			return Losses{}, err
		}
		elapsed := time.Since(start)
		t.metrics.RecordStep(losses, elapsed)

		sum = addLosses(sum, losses)
		window = addLosses(window, losses)
		steps++
		n++

		if (b.Index+1)%t.cfg.PrintInterval == 0 {
			seen := min((b.Index+1)*t.train.BatchSize(), total)
			logger.LogProgress(ctx, seen, total, scaleLosses(window, n), elapsed, t.rc.MemoryUsage())
			window, n = Losses{}, 0
		}
	}
	if err := t.train.Err(); err != nil {
		return Losses{}, err
	}

	used := t.usage.Used()
	dead := t.usage.Dead()
	perplexity := t.usage.Perplexity()
	logger.LogCodebookUsage(ctx, used, t.cfg.K, dead, perplexity)
	t.metrics.RecordCodebookUsage(used, len(dead), perplexity)

	return scaleLosses(sum, steps), nil
}

func addLosses(a, b Losses) Losses {
	return Losses{Recon: a.Recon + b.Recon, VQ: a.VQ + b.VQ, Commit: a.Commit + b.Commit}
}

func scaleLosses(l Losses, n int) Losses {
	if n == 0 {
		return Losses{}
	}
	f := 1 / float64(n)
	return Losses{Recon: l.Recon * f, VQ: l.VQ * f, Commit: l.Commit * f}
}

// Evaluate runs the model forward over the validation data and returns the
// mean reconstruction and codebook losses. It changes no parameter,
// gradient, optimizer or usage state.
func (t *Trainer) Evaluate(ctx context.Context) (EvalResult, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	batches := t.test.Batches(ctx)
	defer func() {
		cancel()
		drain(batches)
	}()

	var res EvalResult
	for b := range batches {
		out, err := t.model.Forward(b.X)
		if err != nil {
			b.Release()
			return EvalResult{}, translateError(err)
		}
		recon, err := tensor.MSE(out.Recon, b.X)
		b.Release()
		if err != nil {
			return EvalResult{}, translateError(err)
		}
		vqLoss, err := vq.CodebookLoss(out.ZQ, out.ZE)
		if err != nil {
			return EvalResult{}, translateError(err)
		}
		if err := checkFinite(StageForward, "validation", recon+vqLoss); err != nil {
			return EvalResult{}, err
		}
		res.Recon += recon
		res.VQ += vqLoss
		res.Batches++
	}
	if err := t.test.Err(); err != nil {
		return EvalResult{}, err
	}

	if res.Batches > 0 {
		res.Recon /= float64(res.Batches)
		res.VQ /= float64(res.Batches)
	}
	res.Duration = time.Since(start)
	t.metrics.RecordEvaluation(res, res.Duration)
	return res, nil
}

// decideCheckpoint saves the model when loss is no worse than the best so
// far. Ties save.
func (t *Trainer) decideCheckpoint(ctx context.Context, epoch int, loss float64) (bool, error) {
	if !(loss <= t.state.BestLoss) {
		t.logger.LogCheckpoint(ctx, "", false, t.state.LastSaved, nil)
		t.metrics.RecordCheckpoint(false)
		return false, nil
	}

	base := checkpoint.Name(t.cfg.Dataset)
	err := checkpoint.Save(ctx, t.store, base, t.model.Params(), checkpoint.Manifest{
		Dataset: t.cfg.Dataset,
		Epoch:   epoch,
		Loss:    loss,
		K:       t.cfg.K,
		D:       t.cfg.Dim,
		Lambda:  t.cfg.Lambda,
		LR:      t.cfg.LR,
	},
		checkpoint.WithCompression(t.compression),
		checkpoint.WithCodec(t.manifest),
		checkpoint.WithResourceController(t.rc),
	)
	t.logger.LogCheckpoint(ctx, base+checkpoint.Ext, err == nil, t.state.LastSaved, err)
	if err != nil {
		return false, err
	}

	if t.commits != nil {
		err := t.commits.Commit(ctx, checkpoint.Pointer{Path: base + checkpoint.Ext, Epoch: epoch, Loss: loss})
		switch {
		case errors.Is(err, checkpoint.ErrNotImproved):
			t.logger.WarnContext(ctx, "commit store kept a better checkpoint",
				"epoch", epoch,
				"loss", loss,
			)
		case err != nil:
			return false, err
		}
	}

	t.state.BestLoss = loss
	t.state.LastSaved = epoch
	t.state.Saves = append(t.state.Saves, SaveRecord{Epoch: epoch, Loss: loss})
	t.metrics.RecordCheckpoint(true)
	return true, nil
}

// ExportSamples reconstructs the first validation images (at most
// sample.MaxImages of the first batch) and writes inputs followed by
// reconstructions as one grid. It returns the number of images in the grid.
func (t *Trainer) ExportSamples(ctx context.Context) (int, error) {
	ds := t.test.Dataset()
	n := min(t.test.BatchSize(), ds.Len(), sample.MaxImages)
	if n == 0 {
		return 0, nil
	}
	x, _, err := data.Collate(ds, 0, n)
	if err != nil {
		return 0, err
	}
	out, err := t.model.Forward(x)
	if err != nil {
		return 0, translateError(err)
	}

	name := sample.Name(t.cfg.Dataset)
	images, err := sample.Export(ctx, t.store, name, x, out.Recon)
	t.logger.LogSamples(ctx, name, images, err)
	return images, err
}

// initCodebook runs the optional k-means initialization once per fresh run.
func (t *Trainer) initCodebook(ctx context.Context) error {
	if t.kmeansIters <= 0 || t.seeded || t.state.Epoch > 0 {
		return nil
	}
	t.seeded = true

	cb := t.model.Codebook()
	want := cb.K() * kmeansSamplesPerCode * cb.D()

	lctx, cancel := context.WithCancel(ctx)
	batches := t.train.Batches(lctx)
	defer func() {
		cancel()
		drain(batches)
	}()

	var vecs []float32
	for b := range batches {
		ze, err := t.model.Encode(b.X)
		b.Release()
		if err != nil {
			return translateError(err)
		}
		v, err := vq.Vectors(ze)
		if err != nil {
			return translateError(err)
		}
		vecs = append(vecs, v...)
		if len(vecs) >= want {
			break
		}
	}
	cancel()
	drain(batches)
	if err := t.train.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ok, err := cb.InitKMeans(ctx, vecs, t.kmeansIters, t.rng)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "codebook initialization",
		"kmeans", ok,
		"vectors", len(vecs)/cb.D(),
		"iterations", t.kmeansIters,
	)
	return nil
}
