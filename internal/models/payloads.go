package models

import "time"

// These structs define the JSON payloads exchanged over the queue and
// served on the worker's status endpoint.

// FileMessage is the queue payload published by the poller.
type FileMessage struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

// SemaphoreStatus is an advisory snapshot of one admission gate.
type SemaphoreStatus struct {
	Name      string `json:"name"`
	Limit     int64  `json:"limit"`
	InUse     int64  `json:"inUse"`
	Available int64  `json:"available"`
}

// BatchStatus describes the progress of the current batch scan run.
type BatchStatus struct {
	RunID       string  `json:"runId,omitempty"`
	Index       int     `json:"index"`
	Windows     int     `json:"windows"`
	TotalFiles  int     `json:"totalFiles"`
	ProgressPct float64 `json:"progressPct"`
	Running     bool    `json:"running"`
}

// PipelineCounters are the cumulative per-outcome counts of a process.
type PipelineCounters struct {
	Received  int64 `json:"received"`
	Processed int64 `json:"processed"`
	Done      int64 `json:"done"`
	Duplicate int64 `json:"duplicate"`
	Malformed int64 `json:"malformed"`
	NotFound  int64 `json:"notFound"`
	Permanent int64 `json:"permanent"`
	Retryable int64 `json:"retryable"`
	Waiting   int64 `json:"waiting"`
	InFlight  int64 `json:"inFlight"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Mode                string           `json:"mode"`
	StartedAt           time.Time        `json:"startedAt"`
	UptimeSeconds       int64            `json:"uptimeSeconds"`
	Counters            PipelineCounters `json:"counters"`
	DedupSize           int              `json:"dedupSize"`
	QueueDepth          int              `json:"queueDepth"`
	PendingLedgerRows   int              `json:"pendingLedgerRows"`
	ProcessingSemaphore SemaphoreStatus  `json:"processingSemaphore"`
	APISemaphore        SemaphoreStatus  `json:"apiSemaphore"`
	Batch               *BatchStatus     `json:"batch,omitempty"`
}
