// Package blobstore abstracts where training artifacts live.
//
// Checkpoints, manifests and sample grids are small, whole-object blobs:
// they are written in one piece with Put and read back in one piece with
// ReadAll. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic rename on Put, mmap on Open
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 (blobstore/s3)
//   - minio.Store: MinIO and other S3-compatible services (blobstore/minio)
//
// # Custom Implementations
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Open must return an error satisfying errors.Is(err, ErrNotFound) for
// missing blobs.
package blobstore
