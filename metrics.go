package vqgo

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting training metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    steps     prometheus.Counter
//	    reconLoss prometheus.Gauge
//	}
//
//	func (p *PrometheusCollector) RecordStep(l vqgo.Losses, d time.Duration) {
//	    p.steps.Inc()
//	    p.reconLoss.Set(l.Recon)
//	}
type MetricsCollector interface {
	// RecordStep is called after each training step.
	RecordStep(losses Losses, duration time.Duration)

	// RecordEvaluation is called after each validation pass.
	RecordEvaluation(res EvalResult, duration time.Duration)

	// RecordCheckpoint is called after each checkpoint decision.
	// saved reports whether the model was written.
	RecordCheckpoint(saved bool)

	// RecordCodebookUsage is called at the end of each training epoch with
	// the number of used and never selected codebook entries.
	RecordCodebookUsage(used, dead int, perplexity float64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStep(Losses, time.Duration)           {}
func (NoopMetricsCollector) RecordEvaluation(EvalResult, time.Duration) {}
func (NoopMetricsCollector) RecordCheckpoint(bool)                      {}
func (NoopMetricsCollector) RecordCodebookUsage(int, int, float64)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StepCount       atomic.Int64
	StepTotalNanos  atomic.Int64
	EvalCount       atomic.Int64
	EvalTotalNanos  atomic.Int64
	CheckpointSaves atomic.Int64
	CheckpointSkips atomic.Int64
	CodebookUsed    atomic.Int64
	CodebookDead    atomic.Int64

	lastRecon      atomic.Uint64
	lastEvalRecon  atomic.Uint64
	lastPerplexity atomic.Uint64
}

// RecordStep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStep(losses Losses, duration time.Duration) {
	b.StepCount.Add(1)
	b.StepTotalNanos.Add(duration.Nanoseconds())
	b.lastRecon.Store(math.Float64bits(losses.Recon))
}

// RecordEvaluation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvaluation(res EvalResult, duration time.Duration) {
	b.EvalCount.Add(1)
	b.EvalTotalNanos.Add(duration.Nanoseconds())
	b.lastEvalRecon.Store(math.Float64bits(res.Recon))
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(saved bool) {
	if saved {
		b.CheckpointSaves.Add(1)
	} else {
		b.CheckpointSkips.Add(1)
	}
}

// RecordCodebookUsage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCodebookUsage(used, dead int, perplexity float64) {
	b.CodebookUsed.Store(int64(used))
	b.CodebookDead.Store(int64(dead))
	b.lastPerplexity.Store(math.Float64bits(perplexity))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StepCount:       b.StepCount.Load(),
		StepAvgNanos:    avg(b.StepTotalNanos.Load(), b.StepCount.Load()),
		LastReconLoss:   math.Float64frombits(b.lastRecon.Load()),
		EvalCount:       b.EvalCount.Load(),
		EvalAvgNanos:    avg(b.EvalTotalNanos.Load(), b.EvalCount.Load()),
		LastEvalLoss:    math.Float64frombits(b.lastEvalRecon.Load()),
		CheckpointSaves: b.CheckpointSaves.Load(),
		CheckpointSkips: b.CheckpointSkips.Load(),
		CodebookUsed:    b.CodebookUsed.Load(),
		CodebookDead:    b.CodebookDead.Load(),
		Perplexity:      math.Float64frombits(b.lastPerplexity.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StepCount       int64
	StepAvgNanos    int64
	LastReconLoss   float64
	EvalCount       int64
	EvalAvgNanos    int64
	LastEvalLoss    float64
	CheckpointSaves int64
	CheckpointSkips int64
	CodebookUsed    int64
	CodebookDead    int64
	Perplexity      float64
}
