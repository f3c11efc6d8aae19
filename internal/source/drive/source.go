package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"claims-backend/internal/extract"
	"claims-backend/internal/source"
)

const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleFolder = "application/vnd.google-apps.folder"
	listFields       = "nextPageToken, files(id, name, mimeType, modifiedTime, size, parents)"
	fileFields       = "id, name, mimeType, modifiedTime, size, parents"
	pageSize         = 100
)

// API is the subset of Drive v3 the source calls.
type API interface {
	ListChildren(ctx context.Context, folderID, pageToken string) (*drivev3.FileList, error)
	GetFile(ctx context.Context, fileID string) (*drivev3.File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	ExportText(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Options configures the Drive source.
type Options struct {
	// AllowedFolders restricts reads to these parent folders. Empty allows all.
	AllowedFolders []string
	// MetadataTTL is how long file metadata is cached.
	MetadataTTL time.Duration
}

// Source reads claim documents from Google Drive folders.
type Source struct {
	api     API
	allowed map[string]bool
	meta    *cache.Cache
}

// New wraps an API implementation.
func New(api API, opts Options) *Source {
	ttl := opts.MetadataTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	allowed := make(map[string]bool, len(opts.AllowedFolders))
	for _, f := range opts.AllowedFolders {
		if f = strings.TrimSpace(f); f != "" {
			allowed[f] = true
		}
	}
	return &Source{api: api, allowed: allowed, meta: cache.New(ttl, 2*ttl)}
}

// NewFromCredentialsFile builds a Drive client from a service-account JSON key.
func NewFromCredentialsFile(ctx context.Context, path string, opts Options) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drivev3.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	svc, err := drivev3.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return New(serviceAPI{svc: svc}, opts), nil
}

// List returns the supported documents directly inside folderID.
func (s *Source) List(ctx context.Context, folderID string) ([]source.FileRef, error) {
	if len(s.allowed) > 0 && !s.allowed[folderID] {
		return nil, fmt.Errorf("%w: folder %s is not in allowed folders", source.ErrPermissionDenied, folderID)
	}

	var refs []source.FileRef
	pageToken := ""
	for {
		page, err := s.api.ListChildren(ctx, folderID, pageToken)
		if err != nil {
			return nil, mapError(err)
		}
		for _, f := range page.Files {
			if f.MimeType == mimeGoogleFolder {
				continue
			}
			if f.MimeType != mimeGoogleDoc && !source.Supported(f.Name) {
				continue
			}
			s.meta.SetDefault(f.Id, f)
			refs = append(refs, toRef(f))
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return refs, nil
}

// Fetch checks folder permission, then downloads or exports the file text.
func (s *Source) Fetch(ctx context.Context, ref source.FileRef) (source.Content, error) {
	f, err := s.metadata(ctx, ref.ID)
	if err != nil {
		return source.Content{}, err
	}
	if !s.permitted(f) {
		return source.Content{}, fmt.Errorf("%w: file %s is not in allowed folders", source.ErrPermissionDenied, ref.ID)
	}

	var body io.ReadCloser
	if f.MimeType == mimeGoogleDoc {
		body, err = s.api.ExportText(ctx, f.Id)
	} else {
		body, err = s.api.Download(ctx, f.Id)
	}
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

	mimeType := f.MimeType
	if mimeType == mimeGoogleDoc {
		mimeType = extract.MimePlainText
	}
	text, err := extract.TextFromBytes(ctx, raw, mimeType, f.Name)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, extract.ErrCorrupt) {
			return source.Content{}, fmt.Errorf("%w: %v", source.ErrUnusable, err)
		}
		return source.Content{}, err
	}
	if text == "" {
		return source.Content{}, fmt.Errorf("%w: %s has no text layer", source.ErrUnusable, ref.ID)
	}
	return source.Content{Ref: toRef(f), Text: text}, nil
}

func (s *Source) metadata(ctx context.Context, fileID string) (*drivev3.File, error) {
	if cached, ok := s.meta.Get(fileID); ok {
		return cached.(*drivev3.File), nil
	}
	f, err := s.api.GetFile(ctx, fileID)
	if err != nil {
		return nil, mapError(err)
	}
	s.meta.SetDefault(fileID, f)
	return f, nil
}

func (s *Source) permitted(f *drivev3.File) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, p := range f.Parents {
		if s.allowed[p] {
			return true
		}
	}
	return false
}

func toRef(f *drivev3.File) source.FileRef {
	ref := source.FileRef{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Size: f.Size}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		ref.ModifiedAt = t.UTC()
	}
	return ref
}

// mapError classifies Drive failures into the source taxonomy.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", source.ErrNotFound, err)
		case gerr.Code == http.StatusForbidden && rateLimited(gerr):
			return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
		case gerr.Code == http.StatusUnauthorized, gerr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", source.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

type serviceAPI struct {
	svc *drivev3.Service
}

func (a serviceAPI) ListChildren(ctx context.Context, folderID, pageToken string) (*drivev3.FileList, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", strings.ReplaceAll(folderID, "'", `\'`))
	call := a.svc.Files.List().Q(q).PageSize(pageSize).Fields(googleapi.Field(listFields)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (a serviceAPI) GetFile(ctx context.Context, fileID string) (*drivev3.File, error) {
	return a.svc.Files.Get(fileID).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
}

func (a serviceAPI) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := a.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a serviceAPI) ExportText(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := a.svc.Files.Export(fileID, extract.MimePlainText).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

var _ source.Source = (*Source)(nil)
