package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
)

// Outcome is the terminal state of one file's processing.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeSkippedDuplicate
	OutcomeSkippedMalformed
	OutcomeNotFound
	OutcomePermanentFailure
	OutcomeRetryableFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeSkippedDuplicate:
		return "skipped_duplicate"
	case OutcomeSkippedMalformed:
		return "skipped_malformed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "retryable_failure"
	}
}

// Acknowledge reports whether the input source may forget the file.
func (o Outcome) Acknowledge() bool {
	return o != OutcomeRetryableFailure
}

// DecodeFileMessage parses a queue payload given as JSON or base64 JSON.
func DecodeFileMessage(data []byte) (models.FileMessage, error) {
	var msg models.FileMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return msg, fmt.Errorf("empty payload")
	}
	if trimmed[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
		if err != nil {
			return msg, fmt.Errorf("payload is neither JSON nor base64: %w", err)
		}
		trimmed = bytes.TrimSpace(decoded)
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal file message: %w", err)
	}
	return msg, nil
}

type pipelineCounters struct {
	received  atomic.Int64
	processed atomic.Int64
	done      atomic.Int64
	duplicate atomic.Int64
	malformed atomic.Int64
	notFound  atomic.Int64
	permanent atomic.Int64
	retryable atomic.Int64
	waiting   atomic.Int64
	inFlight  atomic.Int64
}

// Pipeline runs the per-file state machine: dedup check, metadata fetch,
// classification, year extraction, filing and ledger record.
type Pipeline struct {
	storage    Storage
	classifier *Classifier
	extractor  *YearExtractor
	filer      *Filer
	dedup      *DedupStore
	ledger     LedgerWriter
	procSem    *semaphore.Semaphore
	now        func() time.Time

	counters pipelineCounters
}

func NewPipeline(
	storage Storage,
	classifier *Classifier,
	extractor *YearExtractor,
	filer *Filer,
	dedup *DedupStore,
	ledger LedgerWriter,
	procSem *semaphore.Semaphore,
) *Pipeline {
	return &Pipeline{
		storage:    storage,
		classifier: classifier,
		extractor:  extractor,
		filer:      filer,
		dedup:      dedup,
		ledger:     ledger,
		procSem:    procSem,
		now:        time.Now,
	}
}

// HandleData decodes a queue payload and handles it.
func (p *Pipeline) HandleData(ctx context.Context, data []byte) Outcome {
	msg, err := DecodeFileMessage(data)
	if err != nil {
		p.counters.received.Add(1)
		slog.Warn("Discarding malformed message.", "error", err)
		p.count(OutcomeSkippedMalformed)
		return OutcomeSkippedMalformed
	}
	return p.Handle(ctx, msg)
}

// Handle processes one file under the processing semaphore. Panics are
// recovered and reported as retryable.
func (p *Pipeline) Handle(ctx context.Context, msg models.FileMessage) (outcome Outcome) {
	p.counters.received.Add(1)

	p.counters.waiting.Add(1)
	release, err := p.procSem.Acquire(ctx)
	p.counters.waiting.Add(-1)
	if err != nil {
		p.count(OutcomeRetryableFailure)
		return OutcomeRetryableFailure
	}
	p.counters.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic while processing file.",
				"fileId", msg.FileID, "fileName", msg.FileName, "panic", r, "stack", string(debug.Stack()))
			outcome = OutcomeRetryableFailure
		}
		p.counters.inFlight.Add(-1)
		release()
		p.count(outcome)
	}()

	return p.ProcessFile(ctx, msg)
}

// ProcessFile runs the state machine for one file without admission control.
func (p *Pipeline) ProcessFile(ctx context.Context, msg models.FileMessage) Outcome {
	logCtx := slog.With("fileId", msg.FileID, "fileName", msg.FileName)

	if strings.TrimSpace(msg.FileID) == "" || strings.TrimSpace(msg.FileName) == "" {
		logCtx.Warn("Skipping message without a file id or name.")
		return OutcomeSkippedMalformed
	}
	if p.dedup.Contains(msg.FileID, msg.FileName) {
		logCtx.Debug("Skipping already processed file.")
		return OutcomeSkippedDuplicate
	}

	file, err := p.storage.Get(ctx, msg.FileID)
	if err != nil {
		if failure.IsNotFound(err) {
			logCtx.Warn("File no longer exists, acknowledging.", "error", err)
			return OutcomeNotFound
		}
		logCtx.Error("Failed to fetch file metadata.", "error", err)
		return OutcomeRetryableFailure
	}
	if file.Name == "" {
		file.Name = msg.FileName
	}
	if file.IsFolder() {
		logCtx.Warn("Skipping folder delivered as a file.")
		return OutcomeSkippedMalformed
	}

	property, err := p.classifier.Resolve(ctx, file.Name)
	if err != nil {
		return p.settleFailure(ctx, logCtx, file, "", "", err)
	}
	logCtx = logCtx.With("property", property)

	year := p.extractor.ExtractYear(ctx, file)
	if year == "" {
		year = UnknownYear
	}
	logCtx = logCtx.With("year", year)

	copyID, err := p.filer.File(ctx, file, property, year)
	if err != nil {
		return p.settleFailure(ctx, logCtx, file, property, year, err)
	}

	p.dedup.Mark(file.ID, file.Name)
	p.record(ctx, logCtx, models.LedgerEntry{
		FileID:      file.ID,
		FileName:    file.Name,
		ProcessedAt: p.now().UTC(),
		Property:    property,
		Year:        year,
		CopyID:      copyID,
	})
	logCtx.Info("File filed.", "copyId", copyID)
	return OutcomeDone
}

// settleFailure turns a classification or filing error into an outcome.
// Permanent kinds are marked processed and recorded with the error text.
func (p *Pipeline) settleFailure(ctx context.Context, logCtx *slog.Logger, file models.FileRef, property, year string, err error) Outcome {
	kind := failure.KindOf(err)
	if !kind.Permanent() {
		logCtx.Error("Processing failed, leaving file for redelivery.", "kind", kind.String(), "error", err)
		return OutcomeRetryableFailure
	}

	logCtx.Error("Processing failed permanently, settling file.", "kind", kind.String(), "error", err)
	p.dedup.Mark(file.ID, file.Name)
	p.record(ctx, logCtx, models.LedgerEntry{
		FileID:      file.ID,
		FileName:    file.Name,
		ProcessedAt: p.now().UTC(),
		Property:    property,
		Year:        year,
		ErrorNote:   err.Error(),
	})
	return OutcomePermanentFailure
}

func (p *Pipeline) record(ctx context.Context, logCtx *slog.Logger, entry models.LedgerEntry) {
	if err := p.ledger.Record(ctx, entry); err != nil {
		logCtx.Error("Failed to record ledger entry, row kept pending.", "pending", p.ledger.Pending(), "error", err)
	}
}

func (p *Pipeline) count(o Outcome) {
	p.counters.processed.Add(1)
	switch o {
	case OutcomeDone:
		p.counters.done.Add(1)
	case OutcomeSkippedDuplicate:
		p.counters.duplicate.Add(1)
	case OutcomeSkippedMalformed:
		p.counters.malformed.Add(1)
	case OutcomeNotFound:
		p.counters.notFound.Add(1)
	case OutcomePermanentFailure:
		p.counters.permanent.Add(1)
	default:
		p.counters.retryable.Add(1)
	}
}

// Counters returns a snapshot of the outcome counters.
func (p *Pipeline) Counters() models.PipelineCounters {
	return models.PipelineCounters{
		Received:  p.counters.received.Load(),
		Processed: p.counters.processed.Load(),
		Done:      p.counters.done.Load(),
		Duplicate: p.counters.duplicate.Load(),
		Malformed: p.counters.malformed.Load(),
		NotFound:  p.counters.notFound.Load(),
		Permanent: p.counters.permanent.Load(),
		Retryable: p.counters.retryable.Load(),
		Waiting:   p.counters.waiting.Load(),
		InFlight:  p.counters.inFlight.Load(),
	}
}

// InFlight returns the number of files currently being processed.
func (p *Pipeline) InFlight() int64 {
	return p.counters.inFlight.Load()
}

// Waiting returns the number of files queued for a processing slot.
func (p *Pipeline) Waiting() int64 {
	return p.counters.waiting.Load()
}

// WaitIdle polls until no file is in flight or waiting for a slot, or ctx
// is done.
func (p *Pipeline) WaitIdle(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for p.InFlight()+p.Waiting() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d files in flight, %d waiting: %w", p.InFlight(), p.Waiting(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
