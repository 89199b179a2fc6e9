package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securedocs/internal/cache"
	"securedocs/internal/model"
	"securedocs/internal/render"
	"securedocs/internal/storage"
	"securedocs/internal/watermark"
)

type docTable map[int64]*model.Document

func (d docTable) Get(_ context.Context, id int64) (*model.Document, error) {
	doc, ok := d[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

type fakeRenderer struct {
	ps    *render.PageSet
	err   error
	calls atomic.Int32
}

func (f *fakeRenderer) EnsurePages(_ context.Context, doc *model.Document) (*render.PageSet, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.ps, nil
}

func writePage(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func pageSet(t *testing.T, n int) *render.PageSet {
	t.Helper()
	dir := t.TempDir()
	ps := &render.PageSet{DocumentID: 1, Total: n}
	for i := 1; i <= n; i++ {
		p := filepath.Join(dir, cache.PageFile(i))
		writePage(t, p, color.White)
		ps.Paths = append(ps.Paths, p)
	}
	return ps
}

func decodePage(t *testing.T, b64 string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func countRed(img image.Image, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr == 0xffff && cg == 0 && cb == 0 {
				n++
			}
		}
	}
	return n
}

var (
	u1    = &model.Principal{ID: 1, Username: "u1", IsActive: true}
	u2    = &model.Principal{ID: 2, Username: "u2", IsActive: true}
	admin = &model.Principal{ID: 3, Username: "root", IsSuperuser: true, IsActive: true}
	d1    = &model.Document{ID: 1, Title: "D1", FileType: model.FileTypePDF, AccessibleBy: []int64{1}, AccessibleGroups: []int64{5}}
)

func newViewer(r PageRenderer) (ViewerService, *watermark.Stamper) {
	st := watermark.New("Theta_Learning")
	return NewViewerService(docTable{1: d1}, r, st, nil), st
}

func TestViewer_DirectAccessServesStampedPage(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 3)}
	v, st := newViewer(fr)

	pg, err := v.Page(context.Background(), u1, 1, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, pg.Page)
	assert.Equal(t, 3, pg.TotalPages)

	img := decodePage(t, pg.Image)
	assert.Equal(t, image.Rect(0, 0, 200, 120), img.Bounds())
	marker := st.Bounds(img.Bounds())
	assert.Greater(t, countRed(img, marker), 0)
	assert.Equal(t, 0, countRed(img, image.Rect(0, marker.Max.Y+1, 200, 120)))

	// The cached page stays clean.
	f, err := os.Open(fr.ps.Paths[1])
	require.NoError(t, err)
	defer f.Close()
	orig, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 0, countRed(orig, orig.Bounds()))
}

func TestViewer_EveryPageReportsTotal(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 3)}
	v, _ := newViewer(fr)

	for n := 1; n <= 3; n++ {
		pg, err := v.Page(context.Background(), u1, 1, n)
		require.NoError(t, err)
		assert.Equal(t, n, pg.Page)
		assert.Equal(t, 3, pg.TotalPages)
	}
}

func TestViewer_GroupAccess(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 1)}
	v, _ := newViewer(fr)

	member := &model.Principal{ID: 8, Groups: []int64{4, 5}}
	_, err := v.Page(context.Background(), member, 1, 1)
	assert.NoError(t, err)
}

func TestViewer_DeniedBeforeAnyConversion(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 3)}
	v, _ := newViewer(fr)

	_, err := v.Page(context.Background(), u2, 1, 1)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = v.Open(context.Background(), u2, 1)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = v.Page(context.Background(), nil, 1, 1)
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.Equal(t, int32(0), fr.calls.Load())
}

func TestViewer_AdminReadsAnyDocument(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 2)}
	v, _ := newViewer(fr)

	pg, err := v.Page(context.Background(), admin, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pg.Page)
}

func TestViewer_OutOfRange(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 3)}
	v, _ := newViewer(fr)

	for _, n := range []int{0, 4, -1, 1000} {
		pg, err := v.Page(context.Background(), u1, 1, n)
		assert.ErrorIs(t, err, ErrPageOutOfRange, n)
		assert.Nil(t, pg)
	}
}

func TestViewer_MissingDocument(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 1)}
	v, _ := newViewer(fr)

	_, err := v.Page(context.Background(), admin, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), fr.calls.Load())
}

func TestViewer_ConversionFailure(t *testing.T) {
	fr := &fakeRenderer{err: fmt.Errorf("%w: pdftoppm exited 1", render.ErrConversion)}
	v, _ := newViewer(fr)

	_, err := v.Page(context.Background(), u1, 1, 1)
	assert.ErrorIs(t, err, render.ErrConversion)

	_, err = v.Open(context.Background(), u1, 1)
	assert.ErrorIs(t, err, render.ErrConversion)
}

func TestViewer_CorruptCachedPage(t *testing.T) {
	p := filepath.Join(t.TempDir(), cache.PageFile(1))
	require.NoError(t, os.WriteFile(p, []byte("not a png"), 0o600))
	fr := &fakeRenderer{ps: &render.PageSet{DocumentID: 1, Paths: []string{p}, Total: 1}}
	v, _ := newViewer(fr)

	_, err := v.Page(context.Background(), u1, 1, 1)
	assert.ErrorIs(t, err, render.ErrConversion)
}

func TestViewer_NonPaginatedDocumentHasNoPages(t *testing.T) {
	fr := &fakeRenderer{ps: &render.PageSet{DocumentID: 1, Paths: []string{}}}
	v, _ := newViewer(fr)

	_, err := v.Page(context.Background(), u1, 1, 1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestViewer_Open(t *testing.T) {
	fr := &fakeRenderer{ps: pageSet(t, 4)}
	v, _ := newViewer(fr)

	h, err := v.Open(context.Background(), u1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.DocumentID)
	assert.Equal(t, "D1", h.Title)
	assert.Equal(t, 4, h.TotalPages)
	assert.Equal(t, "/secure-document/1/page/{page}/", h.PageURL)
}

// pngConverter stands in for pdftoppm and writes solid pages.
type pngConverter struct {
	t     *testing.T
	pages atomic.Int32
	calls atomic.Int32
	delay time.Duration
}

func (c *pngConverter) Convert(_ context.Context, _ string, outDir string, _ int) ([]string, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	n := int(c.pages.Load())
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
		img := image.NewRGBA(image.Rect(0, 0, 120, 80))
		img.Set(i, i, color.Black)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type pipeline struct {
	viewer ViewerService
	conv   *pngConverter
	store  storage.Storage
	docs   docTable
}

func newPipeline(t *testing.T, pages int, verify bool) *pipeline {
	t.Helper()
	root := t.TempDir()
	c, err := cache.NewDiskCache(filepath.Join(root, "converted"))
	require.NoError(t, err)
	store, err := storage.NewLocal(filepath.Join(root, "protected"))
	require.NoError(t, err)

	conv := &pngConverter{t: t, delay: 50 * time.Millisecond}
	conv.pages.Store(int32(pages))
	r := render.NewRasterizer(c, store, conv, render.Options{
		DPI:              120,
		Timeout:          5 * time.Second,
		VerifySourceHash: verify,
		ScratchDir:       root,
		PageCounter:      func(string) (int, error) { return int(conv.pages.Load()), nil },
	})

	docs := docTable{}
	return &pipeline{
		viewer: NewViewerService(docs, r, watermark.New("Theta_Learning"), nil),
		conv:   conv,
		store:  store,
		docs:   docs,
	}
}

func (p *pipeline) publish(t *testing.T, id int64, hash string) {
	t.Helper()
	key := fmt.Sprintf("documents/%d.pdf", id)
	_, err := p.store.Put(context.Background(), key, bytes.NewBufferString("%PDF-1.4\n%%EOF\n"), storage.PutObjectOptions{Size: -1})
	require.NoError(t, err)
	p.docs[id] = &model.Document{ID: id, Title: "doc", FileType: model.FileTypePDF, StoragePath: key, ContentSHA256: hash}
}

func TestViewer_ConcurrentFirstRequestsRasterizeOnce(t *testing.T) {
	p := newPipeline(t, 3, true)
	p.publish(t, 2, "v1")

	const n = 8
	images := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pg, err := p.viewer.Page(context.Background(), admin, 2, 1)
			errs[i] = err
			if pg != nil {
				images[i] = pg.Image
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, images[0], images[i])
	}
	assert.Equal(t, int32(1), p.conv.calls.Load())
}

func TestViewer_ReplacedSourceWithHashVerification(t *testing.T) {
	p := newPipeline(t, 2, true)
	p.publish(t, 5, "v1")

	_, err := p.viewer.Page(context.Background(), admin, 5, 3)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	p.conv.pages.Store(3)
	p.publish(t, 5, "v2")

	pg, err := p.viewer.Page(context.Background(), admin, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, pg.TotalPages)
	assert.Equal(t, int32(2), p.conv.calls.Load())
}

func TestViewer_ReplacedSourceWithoutVerificationServesStalePages(t *testing.T) {
	p := newPipeline(t, 2, false)
	p.publish(t, 6, "v1")

	_, err := p.viewer.Page(context.Background(), admin, 6, 1)
	require.NoError(t, err)

	p.conv.pages.Store(3)
	p.publish(t, 6, "v2")

	pg, err := p.viewer.Page(context.Background(), admin, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pg.TotalPages)

	_, err = p.viewer.Page(context.Background(), admin, 6, 3)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	assert.Equal(t, int32(1), p.conv.calls.Load())
}

func TestViewer_FailedConversionIsRetriedLater(t *testing.T) {
	p := newPipeline(t, 0, true)
	p.publish(t, 7, "v1")

	_, err := p.viewer.Page(context.Background(), admin, 7, 1)
	assert.ErrorIs(t, err, render.ErrConversion)
	assert.False(t, errors.Is(err, ErrPageOutOfRange))

	p.conv.pages.Store(1)
	pg, err := p.viewer.Page(context.Background(), admin, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pg.TotalPages)
}
