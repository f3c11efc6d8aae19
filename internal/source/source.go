package source

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound means the folder or file no longer exists. Terminal.
	ErrNotFound = errors.New("source: not found")
	// ErrPermissionDenied means the caller may not read the folder or file. Terminal.
	ErrPermissionDenied = errors.New("source: permission denied")
	// ErrUnavailable means the backing service failed transiently. Retryable.
	ErrUnavailable = errors.New("source: temporarily unavailable")
	// ErrUnusable means the file was read but holds no extractable text. Terminal.
	ErrUnusable = errors.New("source: document unusable")
)

// FileRef identifies one document inside a folder.
type FileRef struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Content is the plain text of a fetched document.
type Content struct {
	Ref  FileRef
	Text string
}

// Source lists the documents of a folder and fetches their text.
type Source interface {
	List(ctx context.Context, folderID string) ([]FileRef, error)
	Fetch(ctx context.Context, ref FileRef) (Content, error)
}

// MaxDocumentBytes bounds how much of one document is read.
const MaxDocumentBytes = 25 << 20

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
}

// Supported reports whether a file name has an extension the pipeline can read.
func Supported(name string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(name))]
}

// Retryable reports whether err is a transient source failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
