package models

import "time"

// LedgerEntry is one append-only row of the processed-files ledger.
// Rows are written on successful completion or on a permanent failure,
// in which case ErrorNote carries the error text.
type LedgerEntry struct {
	FileID      string    `firestore:"fileId"`
	FileName    string    `firestore:"fileName"`
	ProcessedAt time.Time `firestore:"processedAt"`
	Property    string    `firestore:"property,omitempty"`
	Year        string    `firestore:"year,omitempty"`
	CopyID      string    `firestore:"copyId,omitempty"`
	ErrorNote   string    `firestore:"errorNote,omitempty"`
}

// Checkpoint is the persisted progress of a batch scan run.
type Checkpoint struct {
	RunID          string    `json:"runId"`
	BatchIndex     int       `json:"batchIndex"`
	BatchSize      int       `json:"batchSize"`
	TotalFiles     int       `json:"totalFiles"`
	TotalProcessed int       `json:"totalProcessed"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
