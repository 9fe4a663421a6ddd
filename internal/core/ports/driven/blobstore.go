package driven

import "context"

// ObjectStore is content-addressed storage for raw filing artifacts.
// Writes to the same key are idempotent: redelivery of a download task
// re-writes the same location and is a no-op.
type ObjectStore interface {
	// Put stores bytes under the key and returns the storage location.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves bytes from a location returned by Put.
	Get(ctx context.Context, location string) ([]byte, error)
}
