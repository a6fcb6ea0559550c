// Package vqgo trains a vector-quantized autoencoder on the CPU.
//
// An encoder maps an image batch to a continuous latent grid z_e, the
// quantizer snaps every latent vector to its nearest codebook entry giving
// z_q, and a decoder reconstructs the image from z_q. Nearest-neighbor
// lookup has no gradient, so each step routes gradients by hand:
//
//   - reconstruction loss MSE(x̃, x) trains the decoder, and its gradient at
//     z_q is copied onto z_e unchanged (straight-through estimator) to train
//     the encoder
//   - codebook loss MSE(z_q, sg(z_e)) moves the selected codebook rows only
//   - commitment loss λ·MSE(sg(z_q), z_e) pulls the encoder towards them
//
// # Quick Start
//
//	ctx := context.Background()
//	cfg := vqgo.DefaultConfig()
//
//	store := blobstore.NewLocalStore("./data")
//	trainSet, _ := data.Open(ctx, store, cfg.Dataset, true)
//	testSet, _ := data.Open(ctx, store, cfg.Dataset, false)
//
//	m, _ := model.NewReference(cfg.InputChannels, cfg.Dim, cfg.K, rand.New(rand.NewSource(cfg.Seed)))
//	tr, _ := vqgo.NewTrainer(cfg, m,
//	    data.NewLoader(trainSet, cfg.BatchSize, data.WithWorkers(cfg.Workers)),
//	    data.NewLoader(testSet, cfg.BatchSize),
//	    vqgo.WithStore(blobstore.NewLocalStore(".")),
//	    vqgo.WithLogLevel(slog.LevelInfo),
//	)
//	state, err := tr.Run(ctx)
//
// Every epoch ends with a validation pass, a checkpoint at
// models/<dataset>_autoencoder.vqc when the validation loss did not get
// worse, and a reconstruction grid at samples/reconstructions_<dataset>.png.
//
// # Cloud storage
//
// Checkpoints and samples go through a blobstore.Store, so S3 or MinIO work
// the same as a local directory. A checkpoint.DDBCommitStore keeps the best
// epoch in DynamoDB with a conditional write:
//
//	tr, _ := vqgo.NewTrainer(cfg, m, train, test,
//	    vqgo.WithStore(s3.NewStore(client, "my-bucket", "runs/a/")),
//	    vqgo.WithCommitStore(checkpoint.NewDDBCommitStore(ddb, "vqgo-checkpoints", "run-a")),
//	)
package vqgo
