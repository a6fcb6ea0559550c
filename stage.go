package vqgo

// Stage identifies one of the six ordered phases of a training step.
type Stage int

const (
	// StageForward runs the autoencoder.
	StageForward Stage = iota + 1
	// StageReconstruction backpropagates MSE(x̃, x) through the decoder.
	StageReconstruction
	// StageStraightThrough copies grad(z_q) onto z_e and runs the encoder
	// backward.
	StageStraightThrough
	// StageCodebook applies MSE(z_q, sg(z_e)) to the codebook rows.
	StageCodebook
	// StageCommitment applies λ·MSE(sg(z_q), z_e) to the encoder.
	StageCommitment
	// StageUpdate steps the optimizer and clears gradients.
	StageUpdate
)

func (s Stage) String() string {
	switch s {
	case StageForward:
		return "forward"
	case StageReconstruction:
		return "reconstruction"
	case StageStraightThrough:
		return "straight-through"
	case StageCodebook:
		return "codebook"
	case StageCommitment:
		return "commitment"
	case StageUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// StageHook observes the trainer after each stage of a step. Hooks must not
// modify parameters or gradients.
type StageHook func(stage Stage, t *Trainer)
