// Package envconfig reads the VQGO_* environment variables that provide the
// defaults of the vqtrain command line flags.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding spaces and
// quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String returns a getter for a string variable with a default.
func String(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// Int returns a getter for a non-negative integer variable. Invalid values
// are logged and fall back to the default.
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			n, err := strconv.Atoi(s)
			if err == nil && n >= 0 {
				return n
			}
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
		}
		return defaultValue
	}
}

// Int64 returns a getter for a non-negative int64 variable.
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil && n >= 0 {
				return n
			}
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
		}
		return defaultValue
	}
}

// Float returns a getter for a float variable.
func Float(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return f
			}
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable. Any set value that does not
// parse counts as true.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// LogLevel returns the log level from VQGO_DEBUG. A true value enables debug
// logging; an integer n selects slog.Level(-4n).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("VQGO_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

var (
	// BatchSize is the training and validation batch size.
	BatchSize = Int("VQGO_BATCH_SIZE", 32)
	// Epochs bounds the epoch loop; epochs 1 through Epochs-1 run.
	Epochs = Int("VQGO_EPOCHS", 100)
	// PrintInterval is the number of steps between progress lines.
	PrintInterval = Int("VQGO_PRINT_INTERVAL", 100)
	// Dataset is MNIST, FashionMNIST or CIFAR10.
	Dataset = String("VQGO_DATASET", "CIFAR10")
	Dim     = Int("VQGO_DIM", 256)
	K       = Int("VQGO_K", 512)
	Lambda  = Float("VQGO_LAMBDA", 1)
	LR      = Float("VQGO_LR", 3e-4)
	Seed    = Int64("VQGO_SEED", 1)
	Workers = Int("VQGO_WORKERS", 4)

	// DataDir holds the torchvision style dataset layout.
	DataDir = String("VQGO_DATA_DIR", "data")
	// OutDir is the root of models/ and samples/ for the local store.
	OutDir = String("VQGO_OUT_DIR", ".")

	// Store selects the checkpoint store: local, s3 or minio.
	Store  = String("VQGO_STORE", "local")
	Bucket = String("VQGO_BUCKET", "")
	Prefix = String("VQGO_PREFIX", "")

	MinioEndpoint  = String("VQGO_MINIO_ENDPOINT", "")
	MinioAccessKey = String("VQGO_MINIO_ACCESS_KEY", "")
	MinioSecretKey = String("VQGO_MINIO_SECRET_KEY", "")
	MinioInsecure  = Bool("VQGO_MINIO_INSECURE")

	// DDBTable enables the DynamoDB commit store when set.
	DDBTable = String("VQGO_DDB_TABLE", "")
	RunID    = String("VQGO_RUN_ID", "default")

	// Compression is none, lz4 or zstd.
	Compression = String("VQGO_COMPRESSION", "zstd")
	// ManifestCodec is json or go-json.
	ManifestCodec = String("VQGO_MANIFEST_CODEC", "json")
	// KMeansIters enables k-means codebook initialization when positive.
	KMeansIters = Int("VQGO_KMEANS_ITERS", 0)
	// IOLimit throttles checkpoint uploads in bytes per second; 0 is unlimited.
	IOLimit = Int64("VQGO_IO_LIMIT", 0)
	// MemoryLimit caps the bytes held by prefetched batches; 0 only tracks.
	MemoryLimit = Int64("VQGO_MEMORY_LIMIT", 0)
	// Shuffle shuffles the training set every epoch.
	Shuffle = Bool("VQGO_SHUFFLE")
)

// EnvVar describes one variable for help output.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns the current value of every variable.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"VQGO_DEBUG":            {"VQGO_DEBUG", LogLevel(), "Show additional debug information (e.g. VQGO_DEBUG=1)"},
		"VQGO_BATCH_SIZE":       {"VQGO_BATCH_SIZE", BatchSize(), "Batch size (default 32)"},
		"VQGO_EPOCHS":           {"VQGO_EPOCHS", Epochs(), "Epoch bound (default 100)"},
		"VQGO_PRINT_INTERVAL":   {"VQGO_PRINT_INTERVAL", PrintInterval(), "Steps between progress lines (default 100)"},
		"VQGO_DATASET":          {"VQGO_DATASET", Dataset(), "MNIST, FashionMNIST or CIFAR10"},
		"VQGO_DIM":              {"VQGO_DIM", Dim(), "Latent and codebook dimension (default 256)"},
		"VQGO_K":                {"VQGO_K", K(), "Codebook size (default 512)"},
		"VQGO_LAMBDA":           {"VQGO_LAMBDA", Lambda(), "Commitment weight (default 1)"},
		"VQGO_LR":               {"VQGO_LR", LR(), "Adam learning rate (default 3e-4)"},
		"VQGO_SEED":             {"VQGO_SEED", Seed(), "Random seed"},
		"VQGO_WORKERS":          {"VQGO_WORKERS", Workers(), "Data loader workers"},
		"VQGO_DATA_DIR":         {"VQGO_DATA_DIR", DataDir(), "Dataset directory"},
		"VQGO_OUT_DIR":          {"VQGO_OUT_DIR", OutDir(), "Output directory of the local store"},
		"VQGO_STORE":            {"VQGO_STORE", Store(), "Checkpoint store: local, s3 or minio"},
		"VQGO_BUCKET":           {"VQGO_BUCKET", Bucket(), "Bucket of the s3 or minio store"},
		"VQGO_PREFIX":           {"VQGO_PREFIX", Prefix(), "Key prefix in the bucket"},
		"VQGO_MINIO_ENDPOINT":   {"VQGO_MINIO_ENDPOINT", MinioEndpoint(), "MinIO endpoint host:port"},
		"VQGO_MINIO_ACCESS_KEY": {"VQGO_MINIO_ACCESS_KEY", MinioAccessKey() != "", "MinIO access key is set"},
		"VQGO_MINIO_SECRET_KEY": {"VQGO_MINIO_SECRET_KEY", MinioSecretKey() != "", "MinIO secret key is set"},
		"VQGO_MINIO_INSECURE":   {"VQGO_MINIO_INSECURE", MinioInsecure(), "Use plain HTTP for MinIO"},
		"VQGO_DDB_TABLE":        {"VQGO_DDB_TABLE", DDBTable(), "DynamoDB table of the best-checkpoint pointer"},
		"VQGO_RUN_ID":           {"VQGO_RUN_ID", RunID(), "Run id, the DynamoDB partition key"},
		"VQGO_COMPRESSION":      {"VQGO_COMPRESSION", Compression(), "Checkpoint compression: none, lz4 or zstd"},
		"VQGO_MANIFEST_CODEC":   {"VQGO_MANIFEST_CODEC", ManifestCodec(), "Checkpoint manifest codec: json or go-json"},
		"VQGO_KMEANS_ITERS":     {"VQGO_KMEANS_ITERS", KMeansIters(), "k-means iterations for codebook initialization, 0 disables"},
		"VQGO_IO_LIMIT":         {"VQGO_IO_LIMIT", IOLimit(), "Upload limit in bytes per second"},
		"VQGO_MEMORY_LIMIT":     {"VQGO_MEMORY_LIMIT", MemoryLimit(), "Memory limit of prefetched batches in bytes"},
		"VQGO_SHUFFLE":          {"VQGO_SHUFFLE", Shuffle(), "Shuffle the training set"},
	}
}
