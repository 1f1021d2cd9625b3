package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// PushEnvelope is the CloudEvent data of a Pub/Sub push delivery.
// encoding/json decodes the base64 message data into Data.
type PushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// FileEventHandler runs the pipeline for push-delivered file messages.
type FileEventHandler struct {
	pipeline *Pipeline
	ledger   LedgerWriter
}

func NewFileEventHandler(pipeline *Pipeline, ledger LedgerWriter) *FileEventHandler {
	return &FileEventHandler{pipeline: pipeline, ledger: ledger}
}

// Process returns an error for retryable outcomes and while ledger rows are
// still pending, so the push subscription redelivers the message until its
// row is written.
func (h *FileEventHandler) Process(ctx context.Context, data []byte) error {
	var env PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("Discarding undecodable push envelope.", "error", err, "data", string(data))
		return nil
	}

	outcome := h.pipeline.HandleData(ctx, env.Message.Data)
	slog.Info("File event handled.", "messageId", env.Message.MessageID, "outcome", outcome.String())
	if !outcome.Acknowledge() {
		return fmt.Errorf("message %s: %s", env.Message.MessageID, outcome)
	}
	if h.ledger.Pending() > 0 {
		if err := h.ledger.Flush(ctx); err != nil {
			return fmt.Errorf("message %s: %d ledger rows pending: %w", env.Message.MessageID, h.ledger.Pending(), err)
		}
	}
	return nil
}
