// Package render rasterizes paginated documents into cached page images.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"securedocs/internal/cache"
	"securedocs/internal/logging"
	"securedocs/internal/model"
	"securedocs/internal/storage"
)

// ErrConversion marks failures to turn a source document into page images:
// unreadable or corrupt blobs, a file type tag that does not match the blob,
// converter errors and timeouts.
var ErrConversion = errors.New("document conversion failed")

var tracer = otel.Tracer("securedocs/internal/render")

// PageSet is the ordered list of rendered page images of one document.
// Paths[i] holds page i+1.
type PageSet struct {
	DocumentID int64
	Paths      []string
	Total      int
	FromCache  bool
}

// Page returns the image path of a 1-based page number.
func (ps *PageSet) Page(n int) (string, bool) {
	if ps == nil || n < 1 || n > len(ps.Paths) {
		return "", false
	}
	return ps.Paths[n-1], true
}

// Options configures a Rasterizer.
type Options struct {
	DPI     int
	Timeout time.Duration
	// VerifySourceHash makes a cached render valid only when its manifest
	// hash matches the document's ContentSHA256. When false, or when the
	// document has no hash, any non-empty cache directory is served as is.
	VerifySourceHash bool
	// ScratchDir holds downloaded sources and raw converter output. Defaults to os.TempDir().
	ScratchDir  string
	PageCounter PageCounter
	Metrics     *Metrics
	Logger      *logging.Logger
}

// Rasterizer produces and caches page images. At most one conversion runs
// per document at a time; concurrent callers share its result.
type Rasterizer struct {
	cache     *cache.DiskCache
	store     storage.Storage
	converter Converter
	opts      Options
	log       *logging.Logger
	group     singleflight.Group
}

// NewRasterizer wires a rasterizer over a render cache, a source store and a converter.
func NewRasterizer(c *cache.DiskCache, store storage.Storage, conv Converter, opts Options) *Rasterizer {
	if opts.DPI <= 0 {
		opts.DPI = 120
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.PageCounter == nil {
		opts.PageCounter = TabulaPageCount
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Rasterizer{
		cache:     c,
		store:     store,
		converter: conv,
		opts:      opts,
		log:       log.With("render"),
	}
}

// EnsurePages returns the rendered pages of doc, converting the source on the
// first access. Documents whose file type is not paginated yield an empty
// PageSet rather than an error.
func (r *Rasterizer) EnsurePages(ctx context.Context, doc *model.Document) (*PageSet, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	ctx, span := tracer.Start(ctx, "render.EnsurePages", trace.WithAttributes(
		attribute.Int64("document.id", doc.ID),
		attribute.String("document.file_type", string(doc.FileType)),
	))
	defer span.End()

	if !doc.FileType.Paginated() {
		span.SetAttributes(attribute.Int("document.pages", 0))
		return &PageSet{DocumentID: doc.ID, Paths: []string{}}, nil
	}

	ps, err := r.lookup(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache lookup failed")
		return nil, err
	}
	if ps != nil {
		span.SetAttributes(attribute.Bool("render.cache_hit", true), attribute.Int("document.pages", ps.Total))
		return ps, nil
	}

	key := strconv.FormatInt(doc.ID, 10) + ":" + doc.ContentSHA256
	v, err, shared := r.group.Do(key, func() (any, error) {
		// An earlier flight may have committed between our lookup and now.
		if ps, _, err := r.cached(doc); err == nil && ps != nil {
			return ps, nil
		}
		// The conversion outlives any single requester; it is bounded by its own timeout.
		return r.rasterize(context.WithoutCancel(ctx), doc)
	})
	span.SetAttributes(attribute.Bool("render.cache_hit", false), attribute.Bool("render.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rasterization failed")
		return nil, err
	}

	out := *v.(*PageSet)
	out.Paths = append([]string(nil), out.Paths...)
	span.SetAttributes(attribute.Int("document.pages", out.Total))
	return &out, nil
}

// lookup returns the cached pages of doc, or nil when they must be (re)built.
func (r *Rasterizer) lookup(doc *model.Document) (*PageSet, error) {
	ps, reason, err := r.cached(doc)
	switch {
	case err != nil:
		return nil, err
	case ps != nil:
		r.opts.Metrics.lookup("hit")
	case reason == "":
		r.opts.Metrics.lookup("miss")
	default:
		r.opts.Metrics.lookup("stale")
		r.log.Info("render_cache_stale", map[string]any{
			"document_id": doc.ID,
			"reason":      reason,
		})
	}
	return ps, err
}

// cached inspects the cache without recording anything. A nil PageSet with a
// non-empty reason means a render exists but may not be served.
func (r *Rasterizer) cached(doc *model.Document) (*PageSet, string, error) {
	paths, err := r.cache.List(doc.ID)
	if err != nil {
		return nil, "", err
	}
	if len(paths) == 0 {
		return nil, "", nil
	}

	if r.opts.VerifySourceHash && doc.ContentSHA256 != "" {
		m, err := r.cache.Manifest(doc.ID)
		switch {
		case errors.Is(err, cache.ErrNoManifest):
			return nil, "manifest_missing", nil
		case err != nil:
			return nil, "", err
		case m.SourceSHA256 != doc.ContentSHA256:
			return nil, "source_changed", nil
		case m.Pages != len(paths):
			return nil, "page_count_mismatch", nil
		}
	}
	return &PageSet{DocumentID: doc.ID, Paths: paths, Total: len(paths), FromCache: true}, "", nil
}

func (r *Rasterizer) rasterize(ctx context.Context, doc *model.Document) (ps *PageSet, err error) {
	ctx, span := tracer.Start(ctx, "render.Rasterize", trace.WithAttributes(attribute.Int64("document.id", doc.ID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		pages := 0
		if ps != nil {
			pages = ps.Total
		}
		r.opts.Metrics.rasterized(start, pages, err)
		fields := map[string]any{
			"document_id": doc.ID,
			"dpi":         r.opts.DPI,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rasterization failed")
			r.log.Error("rasterize_failed", err, fields)
			return
		}
		fields["pages"] = pages
		r.log.Info("rasterize_success", fields)
	}()

	scratch, err := os.MkdirTemp(r.opts.ScratchDir, "securedocs-raster-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	src := filepath.Join(scratch, "source.pdf")
	if err := r.fetchSource(ctx, doc, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	outDir := filepath.Join(scratch, "out")
	if err := os.Mkdir(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	images, err := r.converter.Convert(ctx, src, outDir, r.opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: converter produced no pages", ErrConversion)
	}

	if declared, perr := r.opts.PageCounter(src); perr != nil {
		r.log.Warn("page_count_unavailable", map[string]any{
			"document_id":   doc.ID,
			"error_message": perr.Error(),
		})
	} else if declared != len(images) {
		return nil, fmt.Errorf("%w: page tree declares %d pages, converter produced %d", ErrConversion, declared, len(images))
	}

	st, err := r.cache.Stage(doc.ID)
	if err != nil {
		return nil, err
	}
	defer st.Abort()

	for i, img := range images {
		b, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %w", ErrConversion, i+1, err)
		}
		if _, err := st.Materialize(i+1, b); err != nil {
			return nil, err
		}
	}

	paths, err := st.Commit(cache.Manifest{SourceSHA256: doc.ContentSHA256, DPI: r.opts.DPI})
	if err != nil {
		return nil, err
	}
	return &PageSet{DocumentID: doc.ID, Paths: paths, Total: len(paths)}, nil
}

// fetchSource copies the document blob to dst after checking that its
// leading bytes agree with the PDF file type tag.
func (r *Rasterizer) fetchSource(ctx context.Context, doc *model.Document, dst string) error {
	rc, _, err := r.store.Get(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("read source: %w", err)
	}
	if !isPDF(head) {
		return fmt.Errorf("source of document %d is not a PDF despite file type %s", doc.ID, doc.FileType)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, br); err != nil {
		f.Close()
		return fmt.Errorf("copy source: %w", err)
	}
	return f.Close()
}
