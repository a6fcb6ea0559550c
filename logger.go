package vqgo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with training-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithEpoch adds an epoch field to the logger.
func (l *Logger) WithEpoch(epoch int) *Logger {
	return &Logger{
		Logger: l.Logger.With("epoch", epoch),
	}
}

// LogEpoch logs the start of an epoch.
func (l *Logger) LogEpoch(ctx context.Context, epoch, total int) {
	l.InfoContext(ctx, "epoch started",
		"epoch", epoch,
		"last_epoch", total-1,
	)
}

// LogProgress logs the running mean of the last interval of training steps.
// prefetched is the memory held by decoded batches waiting for the step.
func (l *Logger) LogProgress(ctx context.Context, seen, total int, mean Losses, stepTime time.Duration, prefetched int64) {
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(seen) / float64(total)
	}
	l.InfoContext(ctx, "training",
		"seen", seen,
		"total", total,
		"percent", pct,
		"loss_recon", mean.Recon,
		"loss_vq", mean.VQ,
		"step_time", stepTime,
		"prefetch_bytes", prefetched,
	)
}

// LogEvaluation logs a completed validation pass.
func (l *Logger) LogEvaluation(ctx context.Context, res EvalResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "validation failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "validation completed",
			"loss_recon", res.Recon,
			"loss_vq", res.VQ,
			"batches", res.Batches,
			"duration", res.Duration,
		)
	}
}

// LogCheckpoint logs the checkpoint decision of an epoch.
func (l *Logger) LogCheckpoint(ctx context.Context, name string, saved bool, lastSaved int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "saving model failed",
			"name", name,
			"error", err,
		)
	case saved:
		l.InfoContext(ctx, "saving model",
			"name", name,
		)
	default:
		l.InfoContext(ctx, "not saving model",
			"last_saved", lastSaved,
		)
	}
}

// LogSamples logs a sample grid export.
func (l *Logger) LogSamples(ctx context.Context, name string, images int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sample export failed",
			"name", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "samples written",
			"name", name,
			"images", images,
		)
	}
}

// LogCodebookUsage logs how much of the codebook an epoch used. The dead
// entries themselves are logged at debug level.
func (l *Logger) LogCodebookUsage(ctx context.Context, used, k int, dead []int, perplexity float64) {
	l.InfoContext(ctx, "codebook usage",
		"used", used,
		"k", k,
		"dead", len(dead),
		"perplexity", perplexity,
	)
	if len(dead) > 0 {
		l.DebugContext(ctx, "dead codebook entries",
			"indices", dead,
		)
	}
}
