package sqlite

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenSet_MarkAndContains(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seen := store.SeenSet()

	contains, err := seen.Contains(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.False(t, contains)

	fresh, err := seen.MarkSeen(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.True(t, fresh)

	contains, err = seen.Contains(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.True(t, contains)

	// A repeat poll of the same accession is not new.
	fresh, err = seen.MarkSeen(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestSeenSet_SurvivesReopen(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "secintel-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)
	ctx := context.Background()

	store1, err := NewStore(tempDir)
	require.NoError(t, err)

	fresh, err := store1.SeenSet().MarkSeen(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.True(t, fresh)
	require.NoError(t, store1.Close())

	// Restart: dedup memory must persist.
	store2, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store2.Close()

	fresh, err = store2.SeenSet().MarkSeen(ctx, "0000320193-26-000042")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestSeenSet_ConcurrentMarkSingleWinner(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seen := store.SeenSet()

	const rounds = 10
	for round := 0; round < rounds; round++ {
		key := fmt.Sprintf("acc-%02d", round)

		var wg sync.WaitGroup
		wins := make(chan bool, 4)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fresh, err := seen.MarkSeen(ctx, key)
				assert.NoError(t, err)
				wins <- fresh
			}()
		}
		wg.Wait()
		close(wins)

		winners := 0
		for fresh := range wins {
			if fresh {
				winners++
			}
		}
		assert.Equal(t, 1, winners, "exactly one poller observes %s as new", key)
	}
}
