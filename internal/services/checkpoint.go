package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/gcp"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
)

// CheckpointStore persists batch scan progress between runs.
type CheckpointStore interface {
	Load(ctx context.Context) (models.Checkpoint, bool, error)
	Save(ctx context.Context, cp models.Checkpoint) error
	Clear(ctx context.Context) error
}

// NewCheckpointStore builds a store from uri: "" disables checkpoints,
// "gs://bucket/object" stores in GCS, anything else is a local file path.
// The returned close function releases any client the store opened.
func NewCheckpointStore(ctx context.Context, uri string) (CheckpointStore, func() error, error) {
	noop := func() error { return nil }
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return NopCheckpointStore{}, noop, nil
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid checkpoint uri %q: %w", uri, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "gs":
		object := strings.TrimPrefix(parsed.Path, "/")
		if parsed.Host == "" || object == "" {
			return nil, nil, fmt.Errorf("checkpoint uri %q must name a bucket and an object", uri)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		return NewGCSCheckpointStore(client.Bucket(parsed.Host), object), client.Close, nil
	case "file":
		path := parsed.Path
		if path == "" {
			path = parsed.Opaque
		}
		return NewFileCheckpointStore(path), noop, nil
	case "":
		return NewFileCheckpointStore(uri), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported checkpoint scheme: %s", parsed.Scheme)
	}
}

// NopCheckpointStore never has a checkpoint.
type NopCheckpointStore struct{}

func (NopCheckpointStore) Load(context.Context) (models.Checkpoint, bool, error) {
	return models.Checkpoint{}, false, nil
}

func (NopCheckpointStore) Save(context.Context, models.Checkpoint) error { return nil }

func (NopCheckpointStore) Clear(context.Context) error { return nil }

// FileCheckpointStore keeps the checkpoint as a JSON file, replaced atomically.
type FileCheckpointStore struct {
	path string
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (s *FileCheckpointStore) Load(context.Context) (models.Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Checkpoint{}, false, nil
		}
		return models.Checkpoint{}, false, err
	}
	return decodeCheckpoint(data)
}

func (s *FileCheckpointStore) Save(_ context.Context, cp models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileCheckpointStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// GCSCheckpointStore keeps the checkpoint as a JSON object in a bucket.
type GCSCheckpointStore struct {
	bucket *storage.BucketHandle
	object string
}

func NewGCSCheckpointStore(bucket *storage.BucketHandle, object string) *GCSCheckpointStore {
	return &GCSCheckpointStore{bucket: bucket, object: object}
}

func (s *GCSCheckpointStore) Load(ctx context.Context) (models.Checkpoint, bool, error) {
	data, err := gcp.ReadObject(ctx, s.bucket, s.object)
	if err != nil {
		if failure.IsNotFound(err) {
			return models.Checkpoint{}, false, nil
		}
		return models.Checkpoint{}, false, err
	}
	return decodeCheckpoint(data)
}

func (s *GCSCheckpointStore) Save(ctx context.Context, cp models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return gcp.WriteObject(ctx, s.bucket, s.object, "application/json", data)
}

func (s *GCSCheckpointStore) Clear(ctx context.Context) error {
	return gcp.DeleteObject(ctx, s.bucket, s.object)
}

func decodeCheckpoint(data []byte) (models.Checkpoint, bool, error) {
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return models.Checkpoint{}, false, fmt.Errorf("corrupt checkpoint: %w", err)
	}
	return cp, true, nil
}
