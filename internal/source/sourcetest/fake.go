// Package sourcetest provides an in-memory source.Source for tests.
package sourcetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claims-backend/internal/source"
)

// Fake serves folders and document text from memory. Errors queued with
// FailFetch are returned one per call before the text is served.
type Fake struct {
	mu        sync.Mutex
	folders   map[string][]source.FileRef
	texts     map[string]string
	fetchErrs map[string][]error
	fetches   map[string]int
	ListErr   error
}

func New() *Fake {
	return &Fake{
		folders:   map[string][]source.FileRef{},
		texts:     map[string]string{},
		fetchErrs: map[string][]error{},
		fetches:   map[string]int{},
	}
}

// Add places a document in a folder and returns its reference.
func (f *Fake) Add(folderID, fileID, name, text string) source.FileRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := source.FileRef{
		ID:         fileID,
		Name:       name,
		MimeType:   "text/plain",
		Size:       int64(len(text)),
		ModifiedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	f.folders[folderID] = append(f.folders[folderID], ref)
	f.texts[fileID] = text
	return ref
}

// EnsureFolder registers an empty folder.
func (f *Fake) EnsureFolder(folderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[folderID]; !ok {
		f.folders[folderID] = nil
	}
}

// FailFetch queues errors for the next fetches of fileID.
func (f *Fake) FailFetch(fileID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs[fileID] = append(f.fetchErrs[fileID], errs...)
}

// Fetches returns how many times fileID was fetched.
func (f *Fake) Fetches(fileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[fileID]
}

func (f *Fake) List(ctx context.Context, folderID string) ([]source.FileRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	refs, ok := f.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("%w: folder %s", source.ErrNotFound, folderID)
	}
	return append([]source.FileRef(nil), refs...), nil
}

func (f *Fake) Fetch(ctx context.Context, ref source.FileRef) (source.Content, error) {
	if err := ctx.Err(); err != nil {
		return source.Content{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[ref.ID]++
	if queued := f.fetchErrs[ref.ID]; len(queued) > 0 {
		f.fetchErrs[ref.ID] = queued[1:]
		return source.Content{}, queued[0]
	}
	text, ok := f.texts[ref.ID]
	if !ok {
		return source.Content{}, fmt.Errorf("%w: file %s", source.ErrNotFound, ref.ID)
	}
	return source.Content{Ref: ref, Text: text}, nil
}

var _ source.Source = (*Fake)(nil)
