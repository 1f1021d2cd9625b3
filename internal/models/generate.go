package models

// GenerateRequest is one prompt to the text/vision model, optionally with a
// single inline attachment.
type GenerateRequest struct {
	Prompt   string
	Data     []byte
	MIMEType string
}

// FilePage is one page of a folder listing.
type FilePage struct {
	Files         []FileRef
	NextPageToken string
}
