package models

// FolderMIMEType is the mime type the storage backend uses for folders.
const FolderMIMEType = "application/vnd.google-apps.folder"

// FileRef identifies a document in the source tree. Identity is the ID.
type FileRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
}

// IsFolder reports whether the reference points at a folder.
func (f FileRef) IsFolder() bool {
	return f.MIMEType == FolderMIMEType
}

// PropertyRecord is one row of the property registry sheet.
type PropertyRecord struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
}
