package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"securedocs/internal/access"
	"securedocs/internal/logging"
	"securedocs/internal/model"
	"securedocs/internal/render"
	"securedocs/internal/watermark"
)

var tracer = otel.Tracer("securedocs/internal/service")

// PageImage is one stamped page ready for the wire.
type PageImage struct {
	Image      string `json:"image"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

// DocumentHandle is what a viewer needs to fetch pages one at a time.
type DocumentHandle struct {
	DocumentID int64  `json:"document_id"`
	Title      string `json:"title"`
	TotalPages int    `json:"total_pages"`
	PageURL    string `json:"page_url"`
}

// PageRenderer turns a document into ordered page image files.
type PageRenderer interface {
	EnsurePages(ctx context.Context, doc *model.Document) (*render.PageSet, error)
}

// ViewerService delivers protected documents page by page without ever
// exposing the source file.
type ViewerService interface {
	// Open authorizes p for the document once and warms the render cache.
	Open(ctx context.Context, p *model.Principal, docID int64) (*DocumentHandle, error)

	// Page returns the watermarked page pageNo (1-based) as a base64 PNG.
	// Pages outside 1..TotalPages yield ErrPageOutOfRange.
	Page(ctx context.Context, p *model.Principal, docID int64, pageNo int) (*PageImage, error)
}

type viewerService struct {
	repo    DocumentFinder
	pages   PageRenderer
	stamper *watermark.Stamper
	log     *logging.Logger
}

// DocumentFinder loads documents by id.
type DocumentFinder interface {
	Get(ctx context.Context, id int64) (*model.Document, error)
}

// NewViewerService wires the page delivery pipeline.
func NewViewerService(docs DocumentFinder, pages PageRenderer, stamper *watermark.Stamper, log *logging.Logger) ViewerService {
	if log == nil {
		log = logging.Nop()
	}
	return &viewerService{repo: docs, pages: pages, stamper: stamper, log: log.With("viewer")}
}

// PageURL returns the path template clients use to fetch pages of a document.
func PageURL(docID int64) string {
	return fmt.Sprintf("/secure-document/%d/page/{page}/", docID)
}

// authorized loads the document and applies its ACL before any rendering work.
func (s *viewerService) authorized(ctx context.Context, p *model.Principal, docID int64) (*model.Document, error) {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	d := access.Evaluate(p, doc)
	if !d.Allowed {
		var uid int64
		if p != nil {
			uid = p.ID
		}
		s.log.Warn("access_denied", map[string]any{
			"user_id":     uid,
			"document_id": docID,
		})
		return nil, ErrAccessDenied
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("access.basis", string(d.Basis)))
	return doc, nil
}

func (s *viewerService) Open(ctx context.Context, p *model.Principal, docID int64) (*DocumentHandle, error) {
	ctx, span := tracer.Start(ctx, "viewer.Open", trace.WithAttributes(attribute.Int64("document.id", docID)))
	defer span.End()

	doc, err := s.authorized(ctx, p, docID)
	if err != nil {
		return nil, err
	}
	ps, err := s.pages.EnsurePages(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return nil, err
	}
	return &DocumentHandle{
		DocumentID: doc.ID,
		Title:      doc.Title,
		TotalPages: ps.Total,
		PageURL:    PageURL(doc.ID),
	}, nil
}

func (s *viewerService) Page(ctx context.Context, p *model.Principal, docID int64, pageNo int) (*PageImage, error) {
	ctx, span := tracer.Start(ctx, "viewer.Page", trace.WithAttributes(
		attribute.Int64("document.id", docID),
		attribute.Int("page.number", pageNo),
	))
	defer span.End()

	doc, err := s.authorized(ctx, p, docID)
	if err != nil {
		return nil, err
	}
	ps, err := s.pages.EnsurePages(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return nil, err
	}

	path, ok := ps.Page(pageNo)
	if !ok {
		return nil, ErrPageOutOfRange
	}

	encoded, err := s.stampFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stamp failed")
		return nil, fmt.Errorf("%w: page %d of document %d: %w", render.ErrConversion, pageNo, docID, err)
	}
	return &PageImage{Image: encoded, Page: pageNo, TotalPages: ps.Total}, nil
}

// stampFile decodes a cached page, applies the watermark and returns the
// result as base64 PNG. The cached file itself is never modified.
func (s *viewerService) stampFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, s.stamper.Stamp(img)); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
