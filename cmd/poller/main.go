package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/config"
	"github.com/Lllllllleong/propertydocumentfiler/internal/gcp"
	"github.com/Lllllllleong/propertydocumentfiler/internal/services"
)

const (
	listMaxAttempts = 3
	listBackoff     = time.Second
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
		slog.Error("Poller exited with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.GetEnv("CONFIG_FILE", ""), config.RolePoller)
	if err != nil {
		return err
	}
	logLevel.Set(config.ParseLogLevel(cfg.LogLevel))

	drive, err := gcp.NewDriveStorage(ctx)
	if err != nil {
		return err
	}
	ledger, closeLedger, err := services.OpenLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
	if err != nil {
		return err
	}
	defer client.Close()
	publisher := gcp.NewPubSubPublisher(client, cfg.PubSubTopic)
	defer publisher.Stop()

	lister := services.NewTreeLister(drive, cfg.DestinationRootID, listMaxAttempts, listBackoff)
	poller := services.NewPoller(lister, ledger, publisher, cfg.SourceFolderID)

	slog.Info("Poller started.", "sourceFolderId", cfg.SourceFolderID, "topic", cfg.PubSubTopic, "interval", cfg.PollInterval.String())
	poller.Run(ctx, cfg.PollInterval)
	slog.Info("Poller stopped.", "published", poller.Published())
	return nil
}
