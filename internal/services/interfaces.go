package services

import (
	"context"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
)

// Storage is the remote file tree documents are read from and filed into.
// Errors are tagged with a failure.Kind; not-found is failure.NotFound.
type Storage interface {
	List(ctx context.Context, folderID, pageToken string) (models.FilePage, error)
	Get(ctx context.Context, fileID string) (models.FileRef, error)
	GetMedia(ctx context.Context, fileID string) ([]byte, error)
	FindFolder(ctx context.Context, parentID, name string) (string, bool, error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	Copy(ctx context.Context, fileID, destParentID, name string) (string, error)
}

// Ledger is the append-only record of processed files.
type Ledger interface {
	LoadAll(ctx context.Context) ([]models.LedgerEntry, error)
	Append(ctx context.Context, entry models.LedgerEntry) error
	AppendBatch(ctx context.Context, entries []models.LedgerEntry) error
}

// Generator is the rate-limited text/vision model. Callers must hold the
// API semaphore while calling Generate.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
	AcceptsMIMEType(mimeType string) bool
}

// PropertyRegistry supplies the known properties at startup.
type PropertyRegistry interface {
	LoadProperties(ctx context.Context) ([]models.PropertyRecord, error)
}
