package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/storage/memory"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

func TestCollectStatus(t *testing.T) {
	ctx := context.Background()
	downloads := memory.NewQueue(time.Minute)
	chunks := memory.NewQueue(time.Minute)
	_, err := downloads.Enqueue(ctx, []byte("x"), "a")
	require.NoError(t, err)
	_, err = downloads.Enqueue(ctx, []byte("y"), "b")
	require.NoError(t, err)

	ledger := memory.NewLedger(map[string]int{string(domain.AnalysisKindSummary): 1000})
	require.NoError(t, ledger.Reserve(ctx, string(domain.AnalysisKindSummary), 250))

	report, err := CollectStatus(ctx, map[string]driven.DurableQueue{
		"downloads": downloads,
		"chunks":    chunks,
	}, ledger, []string{string(domain.AnalysisKindSummary), string(domain.AnalysisKindEntities)})
	require.NoError(t, err)

	assert.Equal(t, 2, report.QueueDepths["downloads"])
	assert.Equal(t, 0, report.QueueDepths["chunks"])
	assert.Equal(t, 250, report.Budgets[string(domain.AnalysisKindSummary)].Consumed)
	assert.Equal(t, 1000, report.Budgets[string(domain.AnalysisKindSummary)].Allotment)
	assert.Equal(t, 0, report.Budgets[string(domain.AnalysisKindEntities)].Allotment)
}
