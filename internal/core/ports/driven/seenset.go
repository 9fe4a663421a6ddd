package driven

import "context"

// SeenSet deduplicates accession numbers across poll cycles and restarts.
// Implementations must make MarkSeen a single atomic add-if-absent so that
// concurrent pollers never both observe an identifier as new.
type SeenSet interface {
	// MarkSeen records the key and reports whether it was newly added.
	MarkSeen(ctx context.Context, key string) (bool, error)

	// Contains reports whether the key has been seen.
	Contains(ctx context.Context, key string) (bool, error)
}
