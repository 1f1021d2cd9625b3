package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_DrainFlushesRowsOfTasksStillWaitingForSlot(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{fn: answerByPrompt("UNKNOWN", "2015")})
	rig.storage.addFile("src", models.FileRef{ID: "H1", Name: "Harbour View lease.pdf", MIMEType: "application/pdf"}, []byte("%PDF"))
	writer := NewBatchLedgerWriter(rig.ledger, time.Hour, 10, RetryPolicy{MaxAttempts: 1})
	rig.rebuild(writer, semaphore.New("processing", 1))
	rt := &Runtime{Pipeline: rig.pipeline, Writer: writer}

	release, err := rig.procSem.Acquire(context.Background())
	require.NoError(t, err)
	done := make(chan Outcome, 1)
	go func() {
		done <- rig.pipeline.Handle(context.Background(), models.FileMessage{FileID: "H1", FileName: "Harbour View lease.pdf"})
	}()
	assert.Eventually(t, func() bool { return rig.pipeline.Waiting() == 1 }, 2*time.Second, time.Millisecond)

	drained := make(chan error, 1)
	go func() { drained <- rt.Drain(context.Background(), time.Millisecond) }()
	select {
	case err := <-drained:
		t.Fatalf("drain returned while a file was waiting for a slot: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-drained)
	assert.Equal(t, OutcomeDone, <-done)
	assert.Equal(t, []string{"H1"}, fileIDs(rig.ledger.rows()))
	assert.Zero(t, writer.Pending())
}

func TestRuntime_DrainReportsRowsLeftPending(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	writer := NewBatchLedgerWriter(&fakeLedger{failures: 5}, time.Hour, 10, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, writer.Record(context.Background(), models.LedgerEntry{FileID: "F1"}))
	rt := &Runtime{Pipeline: rig.pipeline, Writer: writer}

	err := rt.Drain(context.Background(), time.Millisecond)
	assert.ErrorContains(t, err, "left 1 rows pending")
	assert.Equal(t, 1, writer.Pending())
}
