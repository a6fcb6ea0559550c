// Command vqtrain trains a vector-quantized autoencoder on MNIST,
// FashionMNIST or CIFAR-10.
//
// Every flag defaults to its VQGO_* environment variable; run
// "vqtrain env" to list them.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vqgo"
	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/data"
	"github.com/hupe1980/vqgo/internal/envconfig"
	"github.com/hupe1980/vqgo/model"
	"github.com/hupe1980/vqgo/resource"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vqtrain",
		Short:        "Train a vector-quantized autoencoder",
		SilenceUsage: true,
	}
	root.AddCommand(newTrainCmd(), newEnvCmd())
	return root
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train, validate and checkpoint epoch by epoch",
		Args:  cobra.NoArgs,
		RunE:  trainHandler,
	}

	f := cmd.Flags()
	f.String("dataset", envconfig.Dataset(), "Dataset: MNIST, FashionMNIST or CIFAR10")
	f.Int("batch-size", envconfig.BatchSize(), "Batch size")
	f.Int("epochs", envconfig.Epochs(), "Epoch bound; epochs 1 through N-1 run")
	f.Int("print-interval", envconfig.PrintInterval(), "Steps between progress lines")
	f.Int("dim", envconfig.Dim(), "Latent and codebook dimension")
	f.Int("k", envconfig.K(), "Codebook size")
	f.Float64("lambda", envconfig.Lambda(), "Commitment loss weight")
	f.Float64("lr", envconfig.LR(), "Adam learning rate")
	f.Int64("seed", envconfig.Seed(), "Random seed")
	f.Int("workers", envconfig.Workers(), "Data loader workers")
	f.Bool("shuffle", envconfig.Shuffle(), "Shuffle the training set every epoch")
	f.Int("kmeans-iters", envconfig.KMeansIters(), "k-means iterations for codebook initialization, 0 disables")
	f.String("data-dir", envconfig.DataDir(), "Dataset directory")
	f.String("out-dir", envconfig.OutDir(), "Output directory of the local store")
	f.String("store", envconfig.Store(), "Checkpoint store: local, s3 or minio")
	f.String("bucket", envconfig.Bucket(), "Bucket of the s3 or minio store")
	f.String("prefix", envconfig.Prefix(), "Key prefix in the bucket")
	f.String("ddb-table", envconfig.DDBTable(), "DynamoDB table of the best-checkpoint pointer")
	f.String("run-id", envconfig.RunID(), "Run id, the DynamoDB partition key")
	f.String("compression", envconfig.Compression(), "Checkpoint compression: none, lz4 or zstd")
	f.String("manifest-codec", envconfig.ManifestCodec(), "Checkpoint manifest codec: json or go-json")
	f.Int64("io-limit", envconfig.IOLimit(), "Upload limit in bytes per second, 0 is unlimited")
	f.Int64("memory-limit", envconfig.MemoryLimit(), "Memory limit of prefetched batches in bytes, 0 only tracks")
	f.Bool("resume", false, "Continue from the checkpoint in the store")
	f.Bool("json", false, "Log as JSON")

	return cmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables and their current values",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vars := envconfig.AsMap()
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := vars[k]
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %-12v %s\n", v.Name, v.Value, v.Description)
			}
		},
	}
}

func configFromFlags(cmd *cobra.Command) (vqgo.Config, error) {
	f := cmd.Flags()
	cfg := vqgo.DefaultConfig()

	var err error
	if cfg.Dataset, err = f.GetString("dataset"); err != nil {
		return cfg, err
	}
	if cfg.InputChannels, err = data.Channels(cfg.Dataset); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = f.GetInt("batch-size"); err != nil {
		return cfg, err
	}
	if cfg.Epochs, err = f.GetInt("epochs"); err != nil {
		return cfg, err
	}
	if cfg.PrintInterval, err = f.GetInt("print-interval"); err != nil {
		return cfg, err
	}
	if cfg.Dim, err = f.GetInt("dim"); err != nil {
		return cfg, err
	}
	if cfg.K, err = f.GetInt("k"); err != nil {
		return cfg, err
	}
	if cfg.Lambda, err = f.GetFloat64("lambda"); err != nil {
		return cfg, err
	}
	if cfg.LR, err = f.GetFloat64("lr"); err != nil {
		return cfg, err
	}
	if cfg.Seed, err = f.GetInt64("seed"); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = f.GetInt("workers"); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func trainHandler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()

	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	asJSON, _ := f.GetBool("json")
	logger := vqgo.NewTextLogger(envconfig.LogLevel())
	if asJSON {
		logger = vqgo.NewJSONLogger(envconfig.LogLevel())
	}

	compressionName, _ := f.GetString("compression")
	compression, err := checkpoint.ParseCompression(compressionName)
	if err != nil {
		return err
	}

	codecName, _ := f.GetString("manifest-codec")
	manifestCodec, ok := codec.ByName(codecName)
	if !ok {
		return fmt.Errorf("unknown manifest codec %q", codecName)
	}

	ioLimit, _ := f.GetInt64("io-limit")
	memLimit, _ := f.GetInt64("memory-limit")
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     memLimit,
		MaxBackgroundWorkers: int64(cfg.Workers),
		IOLimitBytesPerSec:   ioLimit,
	})

	sc, err := storeConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, sc)
	if err != nil {
		return err
	}
	commits, err := openCommitStore(ctx, sc)
	if err != nil {
		return err
	}

	dataDir, _ := f.GetString("data-dir")
	dataStore := blobstore.NewLocalStore(dataDir)
	trainSet, err := data.Open(ctx, dataStore, cfg.Dataset, true)
	if err != nil {
		return fmt.Errorf("open training set: %w", err)
	}
	testSet, err := data.Open(ctx, dataStore, cfg.Dataset, false)
	if err != nil {
		return fmt.Errorf("open test set: %w", err)
	}

	loaderOpts := []data.LoaderOption{
		data.WithWorkers(cfg.Workers),
		data.WithResourceController(rc),
	}
	trainOpts := loaderOpts
	if shuffle, _ := f.GetBool("shuffle"); shuffle {
		trainOpts = append(trainOpts[:len(trainOpts):len(trainOpts)], data.WithShuffle(rand.New(rand.NewSource(cfg.Seed+1))))
	}
	train := data.NewLoader(trainSet, cfg.BatchSize, trainOpts...)
	test := data.NewLoader(testSet, cfg.BatchSize, loaderOpts...)

	m, err := model.NewReference(cfg.InputChannels, cfg.Dim, cfg.K, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return err
	}

	kmeansIters, _ := f.GetInt("kmeans-iters")
	opts := []vqgo.Option{
		vqgo.WithLogger(logger),
		vqgo.WithStore(store),
		vqgo.WithResourceController(rc),
		vqgo.WithCompression(compression),
		vqgo.WithManifestCodec(manifestCodec),
		vqgo.WithKMeansInit(kmeansIters),
	}
	if commits != nil {
		opts = append(opts, vqgo.WithCommitStore(commits))
	}

	tr, err := vqgo.NewTrainer(cfg, m, train, test, opts...)
	if err != nil {
		return err
	}

	if resume, _ := f.GetBool("resume"); resume {
		ok, err := tr.Resume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.InfoContext(ctx, "no checkpoint to resume from, starting fresh")
		}
	}

	logger.InfoContext(ctx, "training",
		"dataset", cfg.Dataset,
		"train_size", trainSet.Len(),
		"test_size", testSet.Len(),
		"params", len(m.Params()),
		"store", sc.kind,
		"memory_limit", rc.Config().MemoryLimitBytes,
		"io_limit", rc.Config().IOLimitBytesPerSec,
		"background_workers", rc.Config().MaxBackgroundWorkers,
	)
	state, err := tr.Run(ctx)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "training finished",
		"epoch", state.Epoch,
		"best_loss", state.BestLoss,
		"last_saved", state.LastSaved,
		"saves", len(state.Saves),
	)
	return nil
}
