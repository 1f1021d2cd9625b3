package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TreeLister pages through the source tree.
type TreeLister struct {
	storage     Storage
	excludeID   string
	maxAttempts int
	backoff     time.Duration
}

// NewTreeLister returns a lister that never descends into excludeID.
func NewTreeLister(storage Storage, excludeID string, maxAttempts int, backoff time.Duration) *TreeLister {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TreeLister{storage: storage, excludeID: excludeID, maxAttempts: maxAttempts, backoff: backoff}
}

// ListTree returns every non-folder file below rootID, breadth first.
func (l *TreeLister) ListTree(ctx context.Context, rootID string) ([]models.FileRef, error) {
	var files []models.FileRef
	pending := []string{rootID}
	for len(pending) > 0 {
		folderID := pending[0]
		pending = pending[1:]
		if folderID == l.excludeID {
			continue
		}

		pageToken := ""
		for {
			page, err := l.listPage(ctx, folderID, pageToken)
			if err != nil {
				return nil, err
			}
			for _, f := range page.Files {
				if f.IsFolder() {
					pending = append(pending, f.ID)
				} else {
					files = append(files, f)
				}
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return files, nil
}

// listPage retries one page with exponential backoff.
func (l *TreeLister) listPage(ctx context.Context, folderID, pageToken string) (models.FilePage, error) {
	backoff := l.backoff
	var lastErr error
	for i := 0; i < l.maxAttempts; i++ {
		page, err := l.storage.List(ctx, folderID, pageToken)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if i == l.maxAttempts-1 {
			break
		}
		slog.Warn("Listing page failed, will retry.", "folderId", folderID, "attempt", i+1, "backoff", backoff.String(), "error", err)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return models.FilePage{}, ctx.Err()
		}
	}
	return models.FilePage{}, fmt.Errorf("failed to list folder %s: %w", folderID, lastErr)
}

// ScannerOptions configures batch scanning.
type ScannerOptions struct {
	SourceFolderID string
	BatchSize      int
	BatchDelay     time.Duration
	MaxAttempts    int
	Backoff        time.Duration
}

// Scanner walks the whole source tree in fixed-size windows.
type Scanner struct {
	lister      *TreeLister
	pipeline    *Pipeline
	checkpoints CheckpointStore
	opts        ScannerOptions
	newRunID    func() string

	mu     sync.Mutex
	status models.BatchStatus
}

func NewScanner(lister *TreeLister, pipeline *Pipeline, checkpoints CheckpointStore, opts ScannerOptions) *Scanner {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Scanner{
		lister:      lister,
		pipeline:    pipeline,
		checkpoints: checkpoints,
		opts:        opts,
		newRunID:    uuid.NewString,
	}
}

// Status returns the progress of the current or last run.
func (s *Scanner) Status() *models.BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	return &st
}

func (s *Scanner) setStatus(fn func(st *models.BatchStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	if s.status.Windows > 0 {
		s.status.ProgressPct = float64(s.status.Index) / float64(s.status.Windows) * 100
	}
}

// RunForever scans now and then every interval until ctx is done.
func (s *Scanner) RunForever(ctx context.Context, interval time.Duration) {
	for {
		if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Batch scan failed.", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Scan lists the source tree and processes it window by window, resuming
// from a checkpoint left by an interrupted run over the same file count.
func (s *Scanner) Scan(ctx context.Context) error {
	files, err := s.lister.ListTree(ctx, s.opts.SourceFolderID)
	if err != nil {
		return err
	}
	total := len(files)
	windows := (total + s.opts.BatchSize - 1) / s.opts.BatchSize

	runID, start, processed := s.newRunID(), 0, 0
	cp, ok, err := s.checkpoints.Load(ctx)
	if err != nil {
		slog.Warn("Could not load checkpoint, starting from the first window.", "error", err)
	} else if ok && cp.BatchSize == s.opts.BatchSize && cp.TotalFiles == total && cp.BatchIndex < windows {
		runID, start, processed = cp.RunID, cp.BatchIndex, cp.TotalProcessed
		slog.Info("Resuming batch scan from checkpoint.", "runId", runID, "batchIndex", start)
	}

	s.setStatus(func(st *models.BatchStatus) {
		*st = models.BatchStatus{RunID: runID, Index: start, Windows: windows, TotalFiles: total, Running: true}
	})
	defer s.setStatus(func(st *models.BatchStatus) { st.Running = false })

	slog.Info("Batch scan started.", "runId", runID, "totalFiles", total, "windows", windows)
	for i := start; i < windows; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo := i * s.opts.BatchSize
		hi := lo + s.opts.BatchSize
		if hi > total {
			hi = total
		}
		logCtx := slog.With("runId", runID, "batchIndex", i)

		s.runWindow(ctx, logCtx, files[lo:hi])
		processed += hi - lo

		s.setStatus(func(st *models.BatchStatus) { st.Index = i + 1 })
		if err := s.checkpoints.Save(ctx, models.Checkpoint{
			RunID:          runID,
			BatchIndex:     i + 1,
			BatchSize:      s.opts.BatchSize,
			TotalFiles:     total,
			TotalProcessed: processed,
			UpdatedAt:      time.Now().UTC(),
		}); err != nil {
			logCtx.Warn("Failed to save checkpoint.", "error", err)
		}

		if i+1 < windows && s.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.BatchDelay):
			}
		}
	}

	if err := s.checkpoints.Clear(ctx); err != nil {
		slog.Warn("Failed to clear checkpoint.", "error", err)
	}
	slog.Info("Batch scan finished.", "runId", runID, "totalFiles", total)
	return nil
}

// runWindow processes one window, retrying it with backoff while any file
// ends retryable. Files already handled are skipped by the dedup check on
// later attempts.
func (s *Scanner) runWindow(ctx context.Context, logCtx *slog.Logger, files []models.FileRef) {
	backoff := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		retryable := s.dispatchWindow(ctx, files)
		if retryable == 0 {
			return
		}
		if attempt >= s.opts.MaxAttempts {
			logCtx.Warn("Window still has failures, leaving them for the next scan.", "retryable", retryable, "attempts", attempt)
			return
		}
		logCtx.Warn("Window had failures, will retry.", "retryable", retryable, "attempt", attempt, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *Scanner) dispatchWindow(ctx context.Context, files []models.FileRef) int {
	taskCtx := context.WithoutCancel(ctx)
	var retryable atomic.Int64
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error {
			outcome := s.pipeline.Handle(taskCtx, models.FileMessage{FileID: f.ID, FileName: f.Name})
			if !outcome.Acknowledge() {
				retryable.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(retryable.Load())
}
