package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTextFiles(s *memStorage, parentID string, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-F%d", parentID, i)
		s.addFile(parentID, models.FileRef{ID: id, Name: fmt.Sprintf("Harbour View %s.txt", id), MIMEType: "text/plain"}, []byte("note"))
	}
}

func fileNames(files []models.FileRef) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.ID
	}
	return names
}

func TestTreeLister_WalksPagesAndSubfolders(t *testing.T) {
	s := newMemStorage()
	addTextFiles(s, "src", 3)
	s.addFolder("src", "sub", "Sub")
	s.addFolder("src", testRootID, "Filed")
	addTextFiles(s, "sub", 2)
	addTextFiles(s, testRootID, 2)

	files, err := NewTreeLister(s, testRootID, 1, 0).ListTree(context.Background(), "src")
	require.NoError(t, err)
	assert.Equal(t, []string{"src-F0", "src-F1", "src-F2", "sub-F0", "sub-F1"}, fileNames(files))
}

func TestTreeLister_RetriesFailedPages(t *testing.T) {
	s := newMemStorage()
	addTextFiles(s, "src", 3)
	s.listFails = 2

	files, err := NewTreeLister(s, "", 3, time.Millisecond).ListTree(context.Background(), "src")
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestTreeLister_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newMemStorage()
	addTextFiles(s, "src", 1)
	s.listFails = 5

	_, err := NewTreeLister(s, "", 2, time.Millisecond).ListTree(context.Background(), "src")
	assert.ErrorContains(t, err, "failed to list folder src")
}

func newTestScanner(rig *testRig, store CheckpointStore, batchSize int) *Scanner {
	s := NewScanner(NewTreeLister(rig.storage, testRootID, 1, 0), rig.pipeline, store, ScannerOptions{
		SourceFolderID: "src",
		BatchSize:      batchSize,
		MaxAttempts:    3,
		Backoff:        time.Millisecond,
	})
	s.newRunID = func() string { return "fresh-run" }
	return s
}

func TestScanner_ProcessesEveryWindow(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	addTextFiles(rig.storage, "src", 5)
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	s := newTestScanner(rig, store, 2)
	require.NoError(t, s.Scan(context.Background()))

	assert.Len(t, rig.storage.copyRecords(), 5)
	assert.Len(t, rig.ledger.rows(), 5)
	st := s.Status()
	assert.Equal(t, models.BatchStatus{RunID: "fresh-run", Index: 3, Windows: 3, TotalFiles: 5, ProgressPct: 100}, *st)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Scan(context.Background()))
	assert.Len(t, rig.storage.copyRecords(), 5)
	assert.Equal(t, int64(5), rig.pipeline.Counters().Duplicate)
}

func TestScanner_ResumesFromCheckpoint(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	addTextFiles(rig.storage, "src", 5)
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, store.Save(context.Background(), models.Checkpoint{
		RunID: "run-1", BatchIndex: 2, BatchSize: 2, TotalFiles: 5, TotalProcessed: 4,
	}))

	s := newTestScanner(rig, store, 2)
	require.NoError(t, s.Scan(context.Background()))

	copies := rig.storage.copyRecords()
	require.Len(t, copies, 1)
	assert.Equal(t, "src-F4", copies[0].FileID)
	assert.Equal(t, "run-1", s.Status().RunID)
}

func TestScanner_IgnoresCheckpointForDifferentTree(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	addTextFiles(rig.storage, "src", 5)
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, store.Save(context.Background(), models.Checkpoint{
		RunID: "run-1", BatchIndex: 2, BatchSize: 2, TotalFiles: 9,
	}))

	s := newTestScanner(rig, store, 2)
	require.NoError(t, s.Scan(context.Background()))
	assert.Len(t, rig.storage.copyRecords(), 5)
	assert.Equal(t, "fresh-run", s.Status().RunID)
}

func TestScanner_RetriesWindowWithRetryableFiles(t *testing.T) {
	var failures atomic.Int64
	failures.Store(2)
	gen := &fakeGenerator{fn: func(context.Context, models.GenerateRequest) (string, error) {
		if failures.Add(-1) >= 0 {
			return "", errors.New("model overloaded")
		}
		return "UNKNOWN", nil
	}}
	rig := newTestRig(t, gen)
	rig.storage.addFile("src", models.FileRef{ID: "Z1", Name: "scan0001.txt", MIMEType: "text/plain"}, []byte("x"))
	addTextFiles(rig.storage, "src", 1)

	s := newTestScanner(rig, NopCheckpointStore{}, 10)
	require.NoError(t, s.Scan(context.Background()))

	copies := rig.storage.copyRecords()
	require.Len(t, copies, 2)
	counters := rig.pipeline.Counters()
	assert.Equal(t, int64(2), counters.Retryable)
	assert.Equal(t, int64(2), counters.Done)
	assert.Equal(t, int64(1), counters.Duplicate)
}

func TestScanner_StopsBetweenWindowsOnCancel(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	addTextFiles(rig.storage, "src", 4)
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	s := newTestScanner(rig, store, 2)
	s.opts.BatchDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Scan(ctx) }()

	assert.Eventually(t, func() bool { return s.Status().Index == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Len(t, rig.storage.copyRecords(), 2)

	cp, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cp.BatchIndex)
	assert.Equal(t, 2, cp.TotalProcessed)
}
