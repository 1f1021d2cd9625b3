package gcp

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveListPageSize = 1000

// DriveStorage is the file tree the worker reads from and files into. Every
// call opts into shared drives.
type DriveStorage struct {
	svc *drive.Service
}

// NewDriveStorage creates a Drive-backed storage client using application
// default credentials unless opts say otherwise.
func NewDriveStorage(ctx context.Context, opts ...option.ClientOption) (*DriveStorage, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveStorage{svc: svc}, nil
}

// List returns one page of the direct children of folderID.
func (s *DriveStorage) List(ctx context.Context, folderID, pageToken string) (models.FilePage, error) {
	call := s.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))).
		Fields("nextPageToken, files(id, name, mimeType)").
		PageSize(driveListPageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return models.FilePage{}, failure.Wrap("drive.files.list", err)
	}
	page := models.FilePage{NextPageToken: res.NextPageToken}
	for _, f := range res.Files {
		page.Files = append(page.Files, toFileRef(f))
	}
	return page, nil
}

// Get fetches file metadata. A missing file yields a failure.NotFound error.
func (s *DriveStorage) Get(ctx context.Context, fileID string) (models.FileRef, error) {
	f, err := s.svc.Files.Get(fileID).
		Fields("id, name, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return models.FileRef{}, failure.Wrap("drive.files.get", err)
	}
	return toFileRef(f), nil
}

// GetMedia downloads the raw bytes of a file.
func (s *DriveStorage) GetMedia(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := s.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, failure.Wrap("drive.files.download", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.New(failure.Transient, "drive.files.download", err)
	}
	return data, nil
}

// FindFolder looks up a child folder of parentID by exact name.
func (s *DriveStorage) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(parentID), escapeQuery(name), models.FolderMIMEType)
	res, err := s.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, failure.Wrap("drive.files.list", err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

// CreateFolder creates a folder named name under parentID.
func (s *DriveStorage) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: models.FolderMIMEType,
		Parents:  []string{parentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", failure.Wrap("drive.files.create", err)
	}
	return f.Id, nil
}

// Copy places a copy of fileID named name inside destParentID.
func (s *DriveStorage) Copy(ctx context.Context, fileID, destParentID, name string) (string, error) {
	f, err := s.svc.Files.Copy(fileID, &drive.File{
		Name:    name,
		Parents: []string{destParentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", failure.Wrap("drive.files.copy", err)
	}
	return f.Id, nil
}

func toFileRef(f *drive.File) models.FileRef {
	return models.FileRef{ID: f.Id, Name: f.Name, MIMEType: f.MimeType}
}

// escapeQuery escapes a literal for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
