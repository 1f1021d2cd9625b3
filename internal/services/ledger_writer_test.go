package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(n int) []models.LedgerEntry {
	out := make([]models.LedgerEntry, n)
	for i := range out {
		out[i] = models.LedgerEntry{FileID: fmt.Sprintf("F%d", i), FileName: fmt.Sprintf("f%d.pdf", i)}
	}
	return out
}

func fileIDs(rows []models.LedgerEntry) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.FileID
	}
	return ids
}

func TestBatchLedgerWriter_FlushPreservesOrderAndBatchSize(t *testing.T) {
	ledger := &fakeLedger{}
	w := NewBatchLedgerWriter(ledger, time.Hour, 2, RetryPolicy{MaxAttempts: 1})
	for _, e := range entries(5) {
		require.NoError(t, w.Record(context.Background(), e))
	}
	assert.Equal(t, 5, w.Pending())

	require.NoError(t, w.Flush(context.Background()))
	assert.Zero(t, w.Pending())
	assert.Equal(t, []string{"F0", "F1", "F2", "F3", "F4"}, fileIDs(ledger.rows()))
	require.Len(t, ledger.batches, 3)
	assert.Len(t, ledger.batches[0], 2)
	assert.Len(t, ledger.batches[2], 1)
}

func TestBatchLedgerWriter_RetriesThenSucceeds(t *testing.T) {
	ledger := &fakeLedger{failures: 2}
	w := NewBatchLedgerWriter(ledger, time.Hour, 10, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	for _, e := range entries(3) {
		require.NoError(t, w.Record(context.Background(), e))
	}

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 3, ledger.appends)
	assert.Len(t, ledger.rows(), 3)
}

func TestBatchLedgerWriter_RequeuesAtHeadOnExhaustion(t *testing.T) {
	ledger := &fakeLedger{failures: 2}
	w := NewBatchLedgerWriter(ledger, time.Hour, 10, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})
	for _, e := range entries(2) {
		require.NoError(t, w.Record(context.Background(), e))
	}

	require.Error(t, w.Flush(context.Background()))
	assert.Equal(t, 2, w.Pending())
	assert.Empty(t, ledger.rows())

	require.NoError(t, w.Record(context.Background(), models.LedgerEntry{FileID: "late"}))
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, []string{"F0", "F1", "late"}, fileIDs(ledger.rows()))
}

func TestBatchLedgerWriter_RunFlushesOnTimer(t *testing.T) {
	ledger := &fakeLedger{}
	w := NewBatchLedgerWriter(ledger, 10*time.Millisecond, 10, RetryPolicy{MaxAttempts: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, w.Record(context.Background(), models.LedgerEntry{FileID: "F1"}))
	assert.Eventually(t, func() bool { return len(ledger.rows()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestImmediateLedgerWriter(t *testing.T) {
	ledger := &fakeLedger{failures: 1}
	w := NewImmediateLedgerWriter(ledger, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})

	require.NoError(t, w.Record(context.Background(), models.LedgerEntry{FileID: "F1"}))
	assert.Equal(t, []string{"F1"}, fileIDs(ledger.rows()))
	assert.Zero(t, w.Pending())
	assert.NoError(t, w.Flush(context.Background()))
}

func TestImmediateLedgerWriter_KeepsFailedRowsPending(t *testing.T) {
	ledger := &fakeLedger{failures: 2}
	w := NewImmediateLedgerWriter(ledger, RetryPolicy{MaxAttempts: 1})

	assert.Error(t, w.Record(context.Background(), models.LedgerEntry{FileID: "F1"}))
	assert.Equal(t, 1, w.Pending())
	assert.Error(t, w.Flush(context.Background()))
	assert.Equal(t, 1, w.Pending())

	require.NoError(t, w.Record(context.Background(), models.LedgerEntry{FileID: "F2"}))
	assert.Equal(t, []string{"F1", "F2"}, fileIDs(ledger.rows()))
	require.Len(t, ledger.batches, 1)
	assert.Zero(t, w.Pending())

	ledger.mu.Lock()
	ledger.failures = 1
	ledger.mu.Unlock()
	assert.Error(t, w.Record(context.Background(), models.LedgerEntry{FileID: "F3"}))
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, []string{"F1", "F2", "F3"}, fileIDs(ledger.rows()))
	assert.Zero(t, w.Pending())
}
