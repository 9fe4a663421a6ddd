package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// seenSet implements driven.SeenSet on the seen_accessions table.
// MarkSeen is a single INSERT OR IGNORE, so concurrent pollers never both
// observe an accession number as new.
type seenSet struct {
	store *Store
}

var _ driven.SeenSet = (*seenSet)(nil)

// MarkSeen records the key and reports whether it was newly added.
func (s *seenSet) MarkSeen(ctx context.Context, key string) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_accessions (accession_number, first_seen_at)
		VALUES (?, ?)
	`, key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("marking accession seen: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking mark result: %w", err)
	}
	return affected == 1, nil
}

// Contains reports whether the key has been seen.
func (s *seenSet) Contains(ctx context.Context, key string) (bool, error) {
	var count int
	row := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM seen_accessions WHERE accession_number = ?", key)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("checking seen accession: %w", err)
	}
	return count > 0, nil
}
