// Package blobstore stores opaque binary blobs (images, uploads) behind
// pointer strings. Paths are fresh UUIDs per upload; a pointer is never
// overwritten.
package blobstore

import (
	"context"
)

// Store is the object-store contract used by the pipeline.
type Store interface {
	// Put stores blob under a fresh opaque path and returns its pointer.
	Put(ctx context.Context, blob []byte, contentType string) (string, error)

	// Get returns the blob for pointer.
	Get(ctx context.Context, pointer string) ([]byte, error)

	// Delete removes the blob. Deleting a missing pointer is not an error.
	Delete(ctx context.Context, pointer string) error

	// Exists reports whether the pointer resolves to a stored blob.
	Exists(ctx context.Context, pointer string) (bool, error)
}
