package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/propertydocumentfiler/internal/config"
	"github.com/Lllllllleong/propertydocumentfiler/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	handler *services.FileEventHandler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	level := config.ParseLogLevel(config.GetEnv("LOG_LEVEL", "info"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	functions.CloudEvent("HandleFileEvent", handleFileEvent)
}

// main is required by the Go Functions Framework.
func main() {}

func newHandler(ctx context.Context) (*services.FileEventHandler, error) {
	cfg, err := config.Load(config.GetEnv("CONFIG_FILE", ""), config.RoleEventFunction)
	if err != nil {
		return nil, err
	}
	// Instances can be reclaimed at any time, so rows are never left queued.
	cfg.LedgerMode = config.LedgerImmediate

	rt, err := services.NewRuntime(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise runtime: %w", err)
	}
	return services.NewFileEventHandler(rt.Pipeline, rt.Writer), nil
}

// handleFileEvent returns an error only when the file should be redelivered.
func handleFileEvent(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		handler, initErr = newHandler(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}
	return handler.Process(ctx, e.Data())
}
