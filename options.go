package vqgo

import (
	"log/slog"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	store            blobstore.Store
	commitStore      checkpoint.CommitStore
	stageHook        StageHook
	rc               *resource.Controller
	kmeansIters      int
	compression      checkpoint.Compression
	manifestCodec    codec.Codec
}

// Option configures a Trainer.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring training.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vqgo.BasicMetricsCollector{}
//	tr, _ := vqgo.NewTrainer(cfg, m, train, test, vqgo.WithMetricsCollector(metrics))
//	// ... run ...
//	stats := metrics.GetStats()
//	fmt.Printf("Steps: %d, Avg step: %dns\n", stats.StepCount, stats.StepAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vqgo.NewJSONLogger(slog.LevelInfo)
//	tr, _ := vqgo.NewTrainer(cfg, m, train, test, vqgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithStore sets where checkpoints and sample grids are written.
// Default: an in-memory store, which keeps nothing after the process exits.
func WithStore(store blobstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCommitStore records the best checkpoint in cs after every save.
// A DDBCommitStore lets concurrent or resumed runs agree on the best epoch.
func WithCommitStore(cs checkpoint.CommitStore) Option {
	return func(o *options) {
		o.commitStore = cs
	}
}

// WithStageHook calls hook after every stage of every training step.
func WithStageHook(hook StageHook) Option {
	return func(o *options) {
		o.stageHook = hook
	}
}

// WithResourceController throttles checkpoint uploads through rc.
// Data loaders take their own controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithKMeansInit initializes the codebook from k-means centroids of encoder
// outputs on the first training batches before the first epoch.
// iters <= 0 disables it (the default).
func WithKMeansInit(iters int) Option {
	return func(o *options) {
		o.kmeansIters = iters
	}
}

// WithCompression selects the checkpoint payload compression.
// Default: zstd.
func WithCompression(c checkpoint.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithManifestCodec selects the codec of checkpoint manifests.
// Default: codec.Default (indented JSON).
func WithManifestCodec(c codec.Codec) Option {
	return func(o *options) {
		o.manifestCodec = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      checkpoint.CompressionZSTD,
		manifestCodec:    codec.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.manifestCodec == nil {
		o.manifestCodec = codec.Default
	}
	if o.store == nil {
		o.store = blobstore.NewMemoryStore()
	}
	return o
}
