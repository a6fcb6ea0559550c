package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVar(t *testing.T) {
	t.Setenv("VQGO_DATASET", `  "MNIST" `)
	assert.Equal(t, "MNIST", Var("VQGO_DATASET"))
	assert.Equal(t, "MNIST", Dataset())

	t.Setenv("VQGO_DATASET", "'FashionMNIST'")
	assert.Equal(t, "FashionMNIST", Dataset())

	t.Setenv("VQGO_DATASET", "")
	assert.Equal(t, "CIFAR10", Dataset())
}

func TestInt(t *testing.T) {
	cases := map[string]int{
		"":    32,
		"64":  64,
		"0":   0,
		"-1":  32,
		"abc": 32,
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("VQGO_BATCH_SIZE", v)
			assert.Equal(t, want, BatchSize())
		})
	}
}

func TestInt64AndFloat(t *testing.T) {
	t.Setenv("VQGO_IO_LIMIT", "1048576")
	assert.Equal(t, int64(1<<20), IOLimit())

	t.Setenv("VQGO_LR", "1e-3")
	assert.InDelta(t, 1e-3, LR(), 1e-12)

	t.Setenv("VQGO_LR", "fast")
	assert.InDelta(t, 3e-4, LR(), 1e-12)
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"false": false,
		"0":     false,
		"1":     true,
		"true":  true,
		"yes":   true,
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("VQGO_SHUFFLE", v)
			assert.Equal(t, want, Shuffle())
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("VQGO_DEBUG", v)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestAsMap(t *testing.T) {
	t.Setenv("VQGO_MINIO_SECRET_KEY", "hunter2")
	m := AsMap()
	assert.Equal(t, true, m["VQGO_MINIO_SECRET_KEY"].Value)
	assert.Equal(t, "VQGO_EPOCHS", m["VQGO_EPOCHS"].Name)
}
