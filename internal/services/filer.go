package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"golang.org/x/sync/singleflight"
)

// Filer copies documents into root/property/year under the destination root.
type Filer struct {
	storage Storage
	rootID  string

	group   singleflight.Group
	folders sync.Map // parentID + "/" + name -> folder id
}

// NewFiler returns a filer writing below rootID.
func NewFiler(storage Storage, rootID string) *Filer {
	return &Filer{storage: storage, rootID: rootID}
}

// RootID returns the destination root folder id.
func (f *Filer) RootID() string {
	return f.rootID
}

// EnsureFolder returns the id of the folder called name directly under
// parentID, creating it when missing. Concurrent calls for the same segment
// share one lookup.
func (f *Filer) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	key := parentID + "/" + name
	if id, ok := f.folders.Load(key); ok {
		return id.(string), nil
	}

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		if id, ok := f.folders.Load(key); ok {
			return id.(string), nil
		}
		id, found, err := f.storage.FindFolder(ctx, parentID, name)
		if err != nil {
			return "", fmt.Errorf("failed to look up folder %q: %w", name, err)
		}
		if !found {
			id, err = f.storage.CreateFolder(ctx, parentID, name)
			if err != nil {
				return "", fmt.Errorf("failed to create folder %q: %w", name, err)
			}
			slog.Info("Created destination folder.", "parentId", parentID, "name", name, "folderId", id)
		}
		f.folders.Store(key, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// File copies file into root/property/year under its original name and
// returns the id of the copy. The source is left in place.
func (f *Filer) File(ctx context.Context, file models.FileRef, property, year string) (string, error) {
	propertyID, err := f.EnsureFolder(ctx, f.rootID, property)
	if err != nil {
		return "", err
	}
	yearID, err := f.EnsureFolder(ctx, propertyID, year)
	if err != nil {
		return "", err
	}
	copyID, err := f.storage.Copy(ctx, file.ID, yearID, file.Name)
	if err != nil {
		return "", fmt.Errorf("failed to copy file into %s/%s: %w", property, year, err)
	}
	return copyID, nil
}
