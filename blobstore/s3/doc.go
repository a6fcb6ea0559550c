// Package s3 stores training artifacts in Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil { ... }
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "runs/cifar10")
//
//	trainer, err := vqgo.NewTrainer(cfg, m, train, test, vqgo.WithStore(store))
//
// Puts go through the S3 upload manager, which switches to multipart uploads
// for large checkpoints. Opens fetch the whole object.
package s3
