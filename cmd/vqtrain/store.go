package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/blobstore/minio"
	"github.com/hupe1980/vqgo/blobstore/s3"
	"github.com/hupe1980/vqgo/checkpoint"
	"github.com/hupe1980/vqgo/internal/envconfig"
)

type storeConfig struct {
	kind     string
	outDir   string
	bucket   string
	prefix   string
	ddbTable string
	runID    string

	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioInsecure  bool
}

func storeConfigFromFlags(cmd *cobra.Command) (storeConfig, error) {
	f := cmd.Flags()
	sc := storeConfig{
		minioEndpoint:  envconfig.MinioEndpoint(),
		minioAccessKey: envconfig.MinioAccessKey(),
		minioSecretKey: envconfig.MinioSecretKey(),
		minioInsecure:  envconfig.MinioInsecure(),
	}
	for name, dst := range map[string]*string{
		"store":     &sc.kind,
		"out-dir":   &sc.outDir,
		"bucket":    &sc.bucket,
		"prefix":    &sc.prefix,
		"ddb-table": &sc.ddbTable,
		"run-id":    &sc.runID,
	} {
		v, err := f.GetString(name)
		if err != nil {
			return sc, err
		}
		*dst = v
	}
	return sc, nil
}

// openStore returns the store for checkpoints and sample grids.
func openStore(ctx context.Context, sc storeConfig) (blobstore.Store, error) {
	switch sc.kind {
	case "", "local":
		return blobstore.NewLocalStore(sc.outDir), nil
	case "s3":
		if sc.bucket == "" {
			return nil, errors.New("store s3: bucket is required")
		}
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("store s3: %w", err)
		}
		return s3.NewStore(awss3.NewFromConfig(awsCfg), sc.bucket, sc.prefix), nil
	case "minio":
		if sc.bucket == "" || sc.minioEndpoint == "" {
			return nil, errors.New("store minio: bucket and endpoint are required")
		}
		client, err := miniogo.New(sc.minioEndpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(sc.minioAccessKey, sc.minioSecretKey, ""),
			Secure: !sc.minioInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("store minio: %w", err)
		}
		return minio.NewStore(client, sc.bucket, sc.prefix), nil
	default:
		return nil, fmt.Errorf("unknown store %q", sc.kind)
	}
}

// openCommitStore returns the DynamoDB commit store, or nil when no table
// is configured.
func openCommitStore(ctx context.Context, sc storeConfig) (checkpoint.CommitStore, error) {
	if sc.ddbTable == "" {
		return nil, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit store: %w", err)
	}
	return checkpoint.NewDDBCommitStore(dynamodb.NewFromConfig(awsCfg), sc.ddbTable, sc.runID), nil
}
