package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"securedocs/internal/access"
	"securedocs/internal/model"
	"securedocs/internal/repository"
	"securedocs/internal/storage"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrNotFound        = errors.New("document not found")
	ErrReaderNil       = errors.New("reader is nil")
	ErrAccessDenied    = errors.New("access denied")
	ErrPageOutOfRange  = errors.New("page out of range")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrTitleRequired   = errors.New("title is required")
)

// UploadInput carries a new document and its access grants.
type UploadInput struct {
	Reader           io.Reader
	Filename         string
	ContentType      string
	Size             int64
	Title            string
	FileType         model.FileType
	AccessibleBy     []int64
	AccessibleGroups []int64
}

// DashboardResult lists the documents a principal can open, projected to the
// fields the principal may see.
type DashboardResult struct {
	Items  []map[string]any `json:"data"`
	Fields []string         `json:"fields"`
	Total  int              `json:"total"`
}

// RenderCache drops rendered pages when their document goes away.
type RenderCache interface {
	Purge(docID int64) error
}

// DocumentService manages document metadata and source blobs.
type DocumentService interface {
	// Upload streams the content to storage while hashing it, then saves the
	// metadata. The blob is removed again if the database insert fails.
	// Only staff and superusers may upload.
	Upload(ctx context.Context, p *model.Principal, in UploadInput) (*model.Document, error)

	// Dashboard returns the documents visible to p: every document for staff,
	// otherwise those shared with p directly or through a group.
	Dashboard(ctx context.Context, p *model.Principal, limit, offset int) (*DashboardResult, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id int64) (*model.Document, error)

	// Delete removes the blob, the record and any rendered pages. Staff only.
	Delete(ctx context.Context, p *model.Principal, id int64) error
}

type documentService struct {
	store storage.Storage
	repo  repository.DocumentRepository
	cache RenderCache
}

// NewDocumentService constructs a new DocumentService. cache may be nil.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, cache RenderCache) DocumentService {
	return &documentService{store: store, repo: repo, cache: cache}
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.n += int64(len(b))
	return len(b), nil
}

func (s *documentService) Upload(ctx context.Context, p *model.Principal, in UploadInput) (*model.Document, error) {
	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	if in.Reader == nil {
		return nil, ErrReaderNil
	}
	if !in.FileType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFileType, in.FileType)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	// Generate filename using UUID + extension
	ext := strings.ToLower(filepath.Ext(in.Filename))
	key := filepath.ToSlash(filepath.Join("documents", uuid.New().String()+ext))

	hasher := sha256.New()
	counter := &countingWriter{}
	body := io.TeeReader(in.Reader, io.MultiWriter(hasher, counter))

	objInfo, err := s.store.Put(ctx, key, body, storage.PutObjectOptions{
		Size:        in.Size,
		ContentType: in.ContentType,
		Metadata: map[string]string{
			"original-filename": in.Filename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	size := objInfo.Size
	if size <= 0 {
		size = counter.n
	}
	contentType := objInfo.ContentType
	if contentType == "" {
		contentType = in.ContentType
	}
	storedKey := objInfo.Key
	if storedKey == "" {
		storedKey = key
	}

	doc := &model.Document{
		Title:            title,
		FileType:         in.FileType,
		StoragePath:      storedKey,
		ContentSHA256:    hex.EncodeToString(hasher.Sum(nil)),
		Size:             size,
		ContentType:      contentType,
		AccessibleBy:     in.AccessibleBy,
		AccessibleGroups: in.AccessibleGroups,
		CreatedAt:        time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, storedKey); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return stored, nil
}

func (s *documentService) Dashboard(ctx context.Context, p *model.Principal, limit, offset int) (*DashboardResult, error) {
	if p == nil {
		return nil, ErrAccessDenied
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	page := repository.PageQuery{Limit: limit, Offset: offset}
	var (
		res *repository.PageResult[model.Document]
		err error
	)
	if p.IsAdmin() {
		res, err = s.repo.List(ctx, page)
	} else {
		res, err = s.repo.ListAccessible(ctx, p.ID, p.Groups, page)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(res.Items))
	for _, d := range res.Items {
		items = append(items, access.ProjectDocument(p, d))
	}
	return &DashboardResult{
		Items:  items,
		Fields: access.VisibleFields(p, access.DocumentSchema),
		Total:  res.Total,
	}, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, id int64) (*model.Document, error) {
	if id <= 0 {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Delete removes a document from storage, then its record, then its rendered pages.
func (s *documentService) Delete(ctx context.Context, p *model.Principal, id int64) error {
	if !p.IsAdmin() {
		return ErrAccessDenied
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// Delete from storage first; if this fails, keep DB row to avoid orphaned storage reference loss
	if err := s.store.Delete(ctx, doc.StoragePath); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Purge(id); err != nil {
			return fmt.Errorf("purge render cache: %w", err)
		}
	}
	return nil
}
