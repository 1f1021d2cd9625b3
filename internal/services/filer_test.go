package services

import (
	"context"
	"sync"
	"testing"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiler_CreatesMissingSegments(t *testing.T) {
	storage := newMemStorage()
	f := NewFiler(storage, testRootID)
	file := models.FileRef{ID: "F1", Name: "Oak Street Lease.pdf"}

	copyID, err := f.File(context.Background(), file, "Oak Street Properties", "2019")
	require.NoError(t, err)
	assert.NotEmpty(t, copyID)
	assert.Equal(t, int64(2), storage.createCalls.Load())

	copies := storage.copyRecords()
	require.Len(t, copies, 1)
	assert.Equal(t, "F1", copies[0].FileID)
	assert.Equal(t, "Oak Street Lease.pdf", copies[0].Name)
	assert.Equal(t, "Oak Street Properties/2019", storage.folderPath(testRootID, copies[0].ParentID))
}

func TestFiler_ReusesExistingFolders(t *testing.T) {
	storage := newMemStorage()
	storage.addFolder(testRootID, "prop-1", "Harbour View")
	storage.addFolder("prop-1", "year-1", "2020")
	f := NewFiler(storage, testRootID)

	_, err := f.File(context.Background(), models.FileRef{ID: "F1", Name: "a.pdf"}, "Harbour View", "2020")
	require.NoError(t, err)
	assert.Zero(t, storage.createCalls.Load())
	assert.Equal(t, "year-1", storage.copyRecords()[0].ParentID)
}

func TestFiler_FilingTwiceMakesTwoCopies(t *testing.T) {
	storage := newMemStorage()
	f := NewFiler(storage, testRootID)
	file := models.FileRef{ID: "F1", Name: "a.pdf"}

	first, err := f.File(context.Background(), file, "Harbour View", UnknownYear)
	require.NoError(t, err)
	second, err := f.File(context.Background(), file, "Harbour View", UnknownYear)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, storage.copyRecords(), 2)
	assert.Equal(t, int64(2), storage.createCalls.Load())
}

func TestFiler_ConcurrentEnsureFolderCreatesOnce(t *testing.T) {
	storage := newMemStorage()
	f := NewFiler(storage, testRootID)

	ids := make([]string, 20)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.EnsureFolder(context.Background(), testRootID, "Unidentified")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), storage.createCalls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestFiler_CopyErrorIsReturned(t *testing.T) {
	storage := newMemStorage()
	storage.copyErr = assert.AnError
	f := NewFiler(storage, testRootID)

	_, err := f.File(context.Background(), models.FileRef{ID: "F1", Name: "a.pdf"}, "Harbour View", "2020")
	assert.ErrorIs(t, err, assert.AnError)
}
