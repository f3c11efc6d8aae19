package objectsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"claims-backend/internal/extract"
	"claims-backend/internal/shared/storage/object"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/source"
)

// Source reads claim documents from an object store. Folder IDs are key
// prefixes; file IDs are object keys.
type Source struct {
	Store object.ObjectStore
	// CacheText writes extracted text beside the source object and reuses it.
	CacheText bool
}

func New(store object.ObjectStore, cacheText bool) *Source {
	return &Source{Store: store, CacheText: cacheText}
}

// List returns the supported documents below folderID.
func (s *Source) List(ctx context.Context, folderID string) ([]source.FileRef, error) {
	items, err := s.Store.List(ctx, folderID)
	if err != nil {
		return nil, mapError(err)
	}
	refs := make([]source.FileRef, 0, len(items))
	for _, it := range items {
		if !source.Supported(it.Name) {
			continue
		}
		refs = append(refs, source.FileRef{
			ID:         it.Key,
			Name:       it.Name,
			MimeType:   it.ContentType,
			Size:       it.Size,
			ModifiedAt: it.ModifiedAt,
		})
	}
	return refs, nil
}

// Fetch returns the document text, from the derived copy when present.
func (s *Source) Fetch(ctx context.Context, ref source.FileRef) (source.Content, error) {
	if s.CacheText {
		if text, ok := s.readCached(ctx, ref.ID); ok {
			return source.Content{Ref: ref, Text: text}, nil
		}
	}

	body, err := s.Store.Open(ctx, ref.ID)
	if err != nil {
		return source.Content{}, mapError(err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, source.MaxDocumentBytes+1))
	if err != nil {
		return source.Content{}, fmt.Errorf("%w: read %s: %v", source.ErrUnavailable, ref.ID, err)
	}
	if len(raw) > source.MaxDocumentBytes {
		return source.Content{}, fmt.Errorf("%w: %s exceeds %d bytes", source.ErrUnusable, ref.ID, source.MaxDocumentBytes)
	}

	text, err := extract.TextFromBytes(ctx, raw, ref.MimeType, ref.Name)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, extract.ErrCorrupt) {
			return source.Content{}, fmt.Errorf("%w: %v", source.ErrUnusable, err)
		}
		return source.Content{}, err
	}
	if strings.TrimSpace(text) == "" {
		return source.Content{}, fmt.Errorf("%w: %s has no text layer", source.ErrUnusable, ref.ID)
	}

	if s.CacheText {
		if _, err := s.Store.Put(ctx, ref.ID+object.DerivedSuffix, "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
			telemetry.Error("source.cache_write_failed", map[string]any{
				"source_file_id": ref.ID,
				"error":          err.Error(),
			})
		}
	}
	return source.Content{Ref: ref, Text: text}, nil
}

func (s *Source) readCached(ctx context.Context, key string) (string, bool) {
	rc, err := s.Store.Open(ctx, key+object.DerivedSuffix)
	if err != nil {
		return "", false
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, source.MaxDocumentBytes))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func mapError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, object.ErrNotFound):
		return fmt.Errorf("%w: %v", source.ErrNotFound, err)
	case errors.Is(err, object.ErrForbidden):
		return fmt.Errorf("%w: %v", source.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
}

var _ source.Source = (*Source)(nil)
