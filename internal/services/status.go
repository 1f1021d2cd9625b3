package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
)

// StatusSource gathers the live state reported on /status. QueueDepth and
// Batch are optional and depend on the ingestion mode.
type StatusSource struct {
	Mode       string
	StartedAt  time.Time
	Pipeline   *Pipeline
	Dedup      *DedupStore
	Ledger     LedgerWriter
	ProcSem    *semaphore.Semaphore
	APISem     *semaphore.Semaphore
	QueueDepth func() int
	Batch      func() *models.BatchStatus
}

func semaphoreStatus(s *semaphore.Semaphore) models.SemaphoreStatus {
	return models.SemaphoreStatus{
		Name:      s.Name(),
		Limit:     s.Limit(),
		InUse:     s.InUse(),
		Available: s.Available(),
	}
}

// Snapshot returns the current status.
func (s *StatusSource) Snapshot() models.StatusResponse {
	resp := models.StatusResponse{
		Mode:                s.Mode,
		StartedAt:           s.StartedAt,
		UptimeSeconds:       int64(time.Since(s.StartedAt).Seconds()),
		Counters:            s.Pipeline.Counters(),
		DedupSize:           s.Dedup.Size(),
		PendingLedgerRows:   s.Ledger.Pending(),
		ProcessingSemaphore: semaphoreStatus(s.ProcSem),
		APISemaphore:        semaphoreStatus(s.APISem),
	}
	if s.QueueDepth != nil {
		resp.QueueDepth = s.QueueDepth()
	}
	if s.Batch != nil {
		resp.Batch = s.Batch()
	}
	return resp
}

// NewStatusMux serves GET /health and GET /status.
func NewStatusMux(src *StatusSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Snapshot()); err != nil {
			slog.Error("Failed to write status response.", "error", err)
		}
	})
	return mux
}
