// Package minio stores training artifacts in MinIO or any other
// S3-compatible service through the MinIO client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "vqgo", "runs/cifar10")
//
// It needs no AWS configuration, which makes it the simplest remote store for
// air-gapped training boxes.
package minio
