package object

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a key or folder does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrForbidden is returned when the store denies access.
	ErrForbidden = errors.New("object access denied")
)

// Info describes one stored object.
type Info struct {
	Key         string
	Name        string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// ObjectStore lists, reads and writes objects addressed by slash-separated keys.
type ObjectStore interface {
	List(ctx context.Context, folder string) ([]Info, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
}

// DerivedSuffix marks objects written by the pipeline beside their source.
const DerivedSuffix = ".extracted.txt"
