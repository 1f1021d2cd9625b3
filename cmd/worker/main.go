package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/config"
	"github.com/Lllllllleong/propertydocumentfiler/internal/gcp"
	"github.com/Lllllllleong/propertydocumentfiler/internal/services"
	"golang.org/x/sync/errgroup"
)

const (
	idlePollInterval = 200 * time.Millisecond
	listBackoff      = time.Second
)

var logLevel = new(slog.LevelVar)

func init() {
	// --- Set up structured logging ---
	logLevel.Set(config.ParseLogLevel(config.GetEnv("LOG_LEVEL", "info")))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Worker exited with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.GetEnv("CONFIG_FILE", ""), config.RoleWorker)
	if err != nil {
		return err
	}
	logLevel.Set(config.ParseLogLevel(cfg.LogLevel))

	rt, err := services.NewRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise runtime: %w", err)
	}
	defer rt.Close()

	status := &services.StatusSource{
		Mode:      cfg.IngestMode,
		StartedAt: time.Now().UTC(),
		Pipeline:  rt.Pipeline,
		Dedup:     rt.Dedup,
		Ledger:    rt.Writer,
		ProcSem:   rt.ProcSem,
		APISem:    rt.APISem,
	}

	g, gctx := errgroup.WithContext(ctx)
	// The final ledger flush runs only after ingestion has returned.
	ingest, ictx := errgroup.WithContext(gctx)

	switch cfg.IngestMode {
	case config.ModeScan:
		checkpoints, closeCheckpoints, err := services.NewCheckpointStore(ctx, cfg.CheckpointURI)
		if err != nil {
			return err
		}
		defer closeCheckpoints()

		lister := services.NewTreeLister(rt.Storage, cfg.DestinationRootID, cfg.BatchMaxAttempts, listBackoff)
		scanner := services.NewScanner(lister, rt.Pipeline, checkpoints, services.ScannerOptions{
			SourceFolderID: cfg.SourceFolderID,
			BatchSize:      cfg.BatchSize,
			BatchDelay:     cfg.BatchDelay,
			MaxAttempts:    cfg.BatchMaxAttempts,
			Backoff:        cfg.BatchDelay,
		})
		status.Batch = scanner.Status
		ingest.Go(func() error {
			scanner.RunForever(ictx, cfg.ScanInterval)
			return nil
		})
	default:
		client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		defer client.Close()

		sub := gcp.NewPubSubSubscriber(client, cfg.PubSubSubscription, cfg.MaxConcurrentFiles*2)
		consumer := services.NewQueueConsumer(rt.Pipeline)
		status.QueueDepth = consumer.Depth
		ingest.Go(func() error {
			return consumer.Consume(ictx, sub)
		})
	}

	flushCtx, stopFlusher := context.WithCancel(gctx)
	defer stopFlusher()
	if batched, ok := rt.Writer.(*services.BatchLedgerWriter); ok {
		g.Go(func() error {
			batched.Run(flushCtx)
			return nil
		})
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           services.NewStatusMux(status),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("Worker listening.", "port", cfg.Port, "mode", cfg.IngestMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ingestErr := ingest.Wait()
		stopFlusher()
		return errors.Join(ingestErr, shutdown(rt, server, cfg.ShutdownTimeout))
	})

	return g.Wait()
}

// shutdown runs once ingestion has returned: it flushes the ledger and
// stops the status server.
func shutdown(rt *services.Runtime, server *http.Server, timeout time.Duration) error {
	slog.Info("Shutting down, flushing the ledger.", "pending", rt.Writer.Pending())
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	drainErr := rt.Drain(ctx, idlePollInterval)
	if drainErr != nil {
		slog.Error("Final ledger flush failed.", "error", drainErr)
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.Join(drainErr, fmt.Errorf("status server shutdown: %w", err))
	}
	slog.Info("Shutdown complete.", "counters", rt.Pipeline.Counters())
	return drainErr
}
