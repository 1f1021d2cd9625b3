package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/config"
	"github.com/Lllllllleong/propertydocumentfiler/internal/gcp"
	"github.com/Lllllllleong/propertydocumentfiler/internal/llm"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
	"google.golang.org/api/sheets/v4"
)

// Runtime owns the clients and shared state of one filing process.
type Runtime struct {
	Config     *config.Config
	Storage    Storage
	Ledger     Ledger
	Properties *PropertyMap
	Dedup      *DedupStore
	ProcSem    *semaphore.Semaphore
	APISem     *semaphore.Semaphore
	Writer     LedgerWriter
	Filer      *Filer
	Pipeline   *Pipeline

	closers []func() error
}

// NewRuntime connects every client cfg names, loads the property registry
// and rehydrates the dedup store from the ledger.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	drive, err := gcp.NewDriveStorage(ctx)
	if err != nil {
		return nil, err
	}
	rt.Storage = drive

	sheetsSvc, err := gcp.NewSheetsService(ctx)
	if err != nil {
		return nil, err
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, sheetsSvc)
	if err != nil {
		return nil, err
	}
	rt.Ledger = ledger
	rt.closers = append(rt.closers, closeLedger)

	registry, err := gcp.NewSheetsRegistry(sheetsSvc, cfg.RegistrySpreadsheetID, cfg.RegistryRange).LoadProperties(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load property registry: %w", err)
	}
	rt.Properties = NewPropertyMap(registry)

	generator, closeGenerator, err := newGenerator(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeGenerator)

	entries, err := ledger.LoadAll(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	rt.Dedup = NewDedupStore()
	rt.Dedup.Hydrate(entries)

	rt.ProcSem = semaphore.New("processing", cfg.MaxConcurrentFiles)
	rt.APISem = semaphore.New("model-api", cfg.MaxConcurrentAPICalls)

	policy := RetryPolicy{MaxAttempts: cfg.LedgerMaxAttempts, Backoff: cfg.LedgerBackoff}
	if cfg.LedgerMode == config.LedgerImmediate {
		rt.Writer = NewImmediateLedgerWriter(ledger, policy)
	} else {
		rt.Writer = NewBatchLedgerWriter(ledger, cfg.LedgerFlushInterval, cfg.LedgerMaxBatch, policy)
	}

	classifier := NewClassifier(rt.Properties, registry, generator, rt.APISem)
	extractor := NewYearExtractor(drive, generator, rt.APISem, YearExtractorOptions{
		Timeout:        cfg.YearTimeout,
		MaxInlineBytes: cfg.MaxInlineBytes,
		TargetBytes:    cfg.CompressionTarget,
	})
	rt.Filer = NewFiler(drive, cfg.DestinationRootID)
	rt.Pipeline = NewPipeline(drive, classifier, extractor, rt.Filer, rt.Dedup, rt.Writer, rt.ProcSem)

	slog.Info("Runtime ready.",
		"properties", rt.Properties.Len(),
		"ledgerRows", len(entries),
		"ledgerBackend", cfg.LedgerBackend,
		"ledgerMode", cfg.LedgerMode,
		"modelProvider", cfg.ModelProvider,
	)
	return rt, nil
}

// OpenLedger connects the ledger backend cfg selects.
func OpenLedger(ctx context.Context, cfg *config.Config) (Ledger, func() error, error) {
	var svc *sheets.Service
	if cfg.LedgerBackend == config.LedgerSheets {
		var err error
		if svc, err = gcp.NewSheetsService(ctx); err != nil {
			return nil, nil, err
		}
	}
	return openLedger(ctx, cfg, svc)
}

func openLedger(ctx context.Context, cfg *config.Config, svc *sheets.Service) (Ledger, func() error, error) {
	switch cfg.LedgerBackend {
	case config.LedgerFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return gcp.NewFirestoreLedger(client, cfg.FirestoreCollection), client.Close, nil
	case config.LedgerSheets:
		ledger := gcp.NewSheetsLedger(svc, cfg.LedgerSpreadsheetID, cfg.LedgerSheetName, cfg.SheetsRequestsPerMinute)
		if err := ledger.EnsureHeader(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to prepare ledger sheet: %w", err)
		}
		return ledger, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
	}
}

func newGenerator(ctx context.Context, cfg *config.Config) (Generator, func() error, error) {
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName), func() error { return nil }, nil
	default:
		client, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.ModelName)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

// Drain waits until no file is in flight or waiting for a processing slot,
// then writes every pending ledger row. Callers stop ingestion first.
func (rt *Runtime) Drain(ctx context.Context, poll time.Duration) error {
	if err := rt.Pipeline.WaitIdle(ctx, poll); err != nil {
		slog.Warn("Gave up waiting for in-flight files.", "error", err)
	}
	if err := rt.Writer.Flush(ctx); err != nil {
		return fmt.Errorf("final ledger flush left %d rows pending: %w", rt.Writer.Pending(), err)
	}
	return nil
}

// Close releases every client in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
