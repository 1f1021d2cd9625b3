package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
)

// ReadObject returns the full contents of a GCS object. A missing object
// yields a failure.NotFound error.
func ReadObject(ctx context.Context, bucket *storage.BucketHandle, objectName string) ([]byte, error) {
	reader, err := bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, failure.New(failure.NotFound, "gcs.read", err)
		}
		return nil, failure.Wrap("gcs.read", fmt.Errorf("failed to open gs object %s: %w", objectName, err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs object %s: %w", objectName, err)
	}
	return data, nil
}

// WriteObject overwrites a GCS object with content.
func WriteObject(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writer := bucket.Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		slog.Error("Failed to write GCS object", "object", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		slog.Error("Failed to close GCS writer", "object", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// DeleteObject removes a GCS object; a missing object is not an error.
func DeleteObject(ctx context.Context, bucket *storage.BucketHandle, objectName string) error {
	err := bucket.Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs object %s: %w", objectName, err)
	}
	return nil
}
