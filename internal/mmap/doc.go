// Package mmap maps files read-only into memory.
//
// The local blob store opens checkpoints through this package so that
// parameter snapshots are decoded straight from the page cache:
//
//	m, err := mmap.Open("models/MNIST_autoencoder.vqc")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// Unix systems use mmap(2) and madvise(2). Windows uses
// CreateFileMapping/MapViewOfFile and ignores access hints.
//
// A Mapping may be read concurrently. Close is idempotent, but slices
// returned by Bytes must not be used after it returns.
package mmap
