package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
)

// LedgerWriter records completed files in the ledger.
type LedgerWriter interface {
	Record(ctx context.Context, entry models.LedgerEntry) error
	Flush(ctx context.Context) error
	Pending() int
}

// RetryPolicy bounds ledger write attempts. The delay doubles after every
// failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// appendWithRetry writes entries in one call, retrying with exponential backoff.
func appendWithRetry(ctx context.Context, ledger Ledger, entries []models.LedgerEntry, policy RetryPolicy) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := ledger.AppendBatch(ctx, entries)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		slog.Warn(
			"Ledger append failed, will retry.",
			"rows", len(entries),
			"attempt", i+1,
			"maxAttempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("ledger append of %d rows failed after %d attempts: %w", len(entries), attempts, lastErr)
}

// ImmediateLedgerWriter appends each entry as it is recorded. Entries whose
// append fails stay pending and are written ahead of the next entry or by
// Flush.
type ImmediateLedgerWriter struct {
	ledger Ledger
	policy RetryPolicy

	mu      sync.Mutex
	pending []models.LedgerEntry
}

func NewImmediateLedgerWriter(ledger Ledger, policy RetryPolicy) *ImmediateLedgerWriter {
	return &ImmediateLedgerWriter{ledger: ledger, policy: policy}
}

// Record writes any pending entries and entry in one append.
func (w *ImmediateLedgerWriter) Record(ctx context.Context, entry models.LedgerEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, entry)
	return w.writePending(ctx)
}

// Flush writes the pending entries, if any.
func (w *ImmediateLedgerWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	return w.writePending(ctx)
}

// Pending returns the number of entries not yet written.
func (w *ImmediateLedgerWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *ImmediateLedgerWriter) writePending(ctx context.Context) error {
	if err := appendWithRetry(ctx, w.ledger, w.pending, w.policy); err != nil {
		return err
	}
	w.pending = nil
	return nil
}

// BatchLedgerWriter queues entries and appends them in batches on a timer.
// Entries that cannot be written are put back at the head of the queue for
// the next flush; they are lost only if the process exits first.
type BatchLedgerWriter struct {
	ledger   Ledger
	policy   RetryPolicy
	interval time.Duration
	maxBatch int

	mu    sync.Mutex
	queue []models.LedgerEntry

	flushMu sync.Mutex
}

func NewBatchLedgerWriter(ledger Ledger, interval time.Duration, maxBatch int, policy RetryPolicy) *BatchLedgerWriter {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &BatchLedgerWriter{
		ledger:   ledger,
		policy:   policy,
		interval: interval,
		maxBatch: maxBatch,
	}
}

// Record queues entry. It never fails.
func (w *BatchLedgerWriter) Record(_ context.Context, entry models.LedgerEntry) error {
	w.mu.Lock()
	w.queue = append(w.queue, entry)
	w.mu.Unlock()
	return nil
}

// Pending returns the number of queued entries.
func (w *BatchLedgerWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Flush writes queued entries in batches of at most maxBatch, in the order
// they were queued. It stops at the first batch that exhausts its retries.
func (w *BatchLedgerWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		batch := w.take()
		if len(batch) == 0 {
			return nil
		}
		if err := appendWithRetry(ctx, w.ledger, batch, w.policy); err != nil {
			w.requeue(batch)
			return err
		}
		slog.Info("Ledger batch written.", "rows", len(batch))
	}
}

func (w *BatchLedgerWriter) take() []models.LedgerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if n > w.maxBatch {
		n = w.maxBatch
	}
	batch := append([]models.LedgerEntry(nil), w.queue[:n]...)
	w.queue = w.queue[n:]
	return batch
}

func (w *BatchLedgerWriter) requeue(batch []models.LedgerEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(append([]models.LedgerEntry(nil), batch...), w.queue...)
}

// Run flushes every interval until ctx is done. The final flush on shutdown
// is the caller's job.
func (w *BatchLedgerWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				slog.Error("Ledger flush failed, rows re-queued.", "pending", w.Pending(), "error", err)
			}
		}
	}
}
