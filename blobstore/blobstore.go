// Package blobstore abstracts binary object storage for uploaded documents
// and exported artifacts. The service only needs put/get/delete semantics;
// any object store (MinIO, S3) can sit behind the interface. The filesystem
// implementation in this package is the default for single-node deployments.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a locator does not resolve to stored bytes.
var ErrNotFound = errors.New("blob not found")

// Store is the minimal object-storage contract consumed by the pipeline and
// export layers.
type Store interface {
	// Put stores data and returns a locator for later retrieval.
	// The key is caller-chosen and stable (e.g. "<document_id>/report.pdf").
	Put(ctx context.Context, key string, data []byte) (locator string, err error)

	// Get returns the bytes stored under a locator.
	Get(ctx context.Context, locator string) ([]byte, error)

	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, locator string) error
}
