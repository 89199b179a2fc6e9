package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securedocs/internal/cache"
	"securedocs/internal/model"
	"securedocs/internal/storage"
)

const pdfBlob = "%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"

type fakeConverter struct {
	pages int
	delay time.Duration
	err   error
	calls atomic.Int32
	// block makes Convert wait for context cancellation.
	block bool
}

func (f *fakeConverter) Convert(ctx context.Context, src, outDir string, dpi int) ([]string, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	out := make([]string, 0, f.pages)
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("png-%d@%d", i, dpi)), 0o600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type fixture struct {
	cache *cache.DiskCache
	store storage.Storage
	conv  *fakeConverter
	reg   *prometheus.Registry
	opts  Options
}

func newFixture(t *testing.T, pages int) *fixture {
	t.Helper()
	root := t.TempDir()
	c, err := cache.NewDiskCache(filepath.Join(root, "converted"))
	require.NoError(t, err)
	st, err := storage.NewLocal(filepath.Join(root, "protected"))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	return &fixture{
		cache: c,
		store: st,
		conv:  &fakeConverter{pages: pages},
		reg:   reg,
		opts: Options{
			DPI:              120,
			Timeout:          5 * time.Second,
			VerifySourceHash: true,
			ScratchDir:       root,
			PageCounter:      func(string) (int, error) { return pages, nil },
			Metrics:          m,
		},
	}
}

func (f *fixture) rasterizer() *Rasterizer {
	return NewRasterizer(f.cache, f.store, f.conv, f.opts)
}

func (f *fixture) putDoc(t *testing.T, id int64, blob, hash string) *model.Document {
	t.Helper()
	key := fmt.Sprintf("documents/%d.pdf", id)
	_, err := f.store.Put(context.Background(), key, bytes.NewBufferString(blob), storage.PutObjectOptions{Size: int64(len(blob))})
	require.NoError(t, err)
	return &model.Document{ID: id, Title: "doc", FileType: model.FileTypePDF, StoragePath: key, ContentSHA256: hash}
}

func TestEnsurePages_NonPaginatedTypes(t *testing.T) {
	f := newFixture(t, 3)
	r := f.rasterizer()

	for _, ft := range []model.FileType{model.FileTypeDOC, model.FileTypeDOCX, model.FileTypeImage, model.FileTypeNews} {
		ps, err := r.EnsurePages(context.Background(), &model.Document{ID: 9, FileType: ft})
		require.NoError(t, err, ft)
		assert.Equal(t, 0, ps.Total)
		assert.Empty(t, ps.Paths)
	}
	assert.Equal(t, int32(0), f.conv.calls.Load())
}

func TestEnsurePages_ConvertsOnceThenServesCache(t *testing.T) {
	f := newFixture(t, 3)
	r := f.rasterizer()
	doc := f.putDoc(t, 7, pdfBlob, "abc")

	first, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, first.Paths, 3)
	assert.False(t, first.FromCache)
	dir, err := f.cache.RenderDir(7)
	require.NoError(t, err)
	for i, p := range first.Paths {
		assert.Equal(t, filepath.Join(dir, cache.PageFile(i+1)), p)
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("png-%d@120", i+1), string(b))
	}

	second, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Paths, second.Paths)
	assert.Equal(t, int32(1), f.conv.calls.Load())

	m, err := f.cache.Manifest(7)
	require.NoError(t, err)
	assert.Equal(t, "abc", m.SourceSHA256)
	assert.Equal(t, 3, m.Pages)
	assert.Equal(t, 120, m.DPI)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.rasterizations.WithLabelValues("success")))
}

func TestEnsurePages_ConcurrentFirstAccessConvertsOnce(t *testing.T) {
	f := newFixture(t, 4)
	f.conv.delay = 100 * time.Millisecond
	r := f.rasterizer()
	doc := f.putDoc(t, 11, pdfBlob, "h1")

	const n = 8
	results := make([][]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ps, err := r.EnsurePages(context.Background(), doc)
			errs[i] = err
			if ps != nil {
				results[i] = ps.Paths
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, results[0], 4)
	assert.Equal(t, int32(1), f.conv.calls.Load())

	entries, err := os.ReadDir(f.cache.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the committed directory should remain")
	assert.Equal(t, "doc_11", entries[0].Name())
}

func TestEnsurePages_CallerCancellationDoesNotAbortConversion(t *testing.T) {
	f := newFixture(t, 2)
	f.conv.delay = 50 * time.Millisecond
	r := f.rasterizer()
	doc := f.putDoc(t, 12, pdfBlob, "h")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ps, err := r.EnsurePages(ctx, doc)
	require.NoError(t, err)
	assert.Len(t, ps.Paths, 2)
}

func TestEnsurePages_FailureLeavesNothingAndRetries(t *testing.T) {
	f := newFixture(t, 2)
	f.conv.err = errors.New("syntax error in xref")
	r := f.rasterizer()
	doc := f.putDoc(t, 3, pdfBlob, "h")

	_, err := r.EnsurePages(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversion)

	ok, err := f.cache.Exists(3)
	require.NoError(t, err)
	assert.False(t, ok)
	entries, err := os.ReadDir(f.cache.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)

	f.conv.err = nil
	ps, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, ps.Paths, 2)
	assert.Equal(t, int32(2), f.conv.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.rasterizations.WithLabelValues("failure")))
}

func TestEnsurePages_RejectsBlobThatIsNotPDF(t *testing.T) {
	f := newFixture(t, 1)
	r := f.rasterizer()
	doc := f.putDoc(t, 4, "PK\x03\x04 not a pdf at all", "h")

	_, err := r.EnsurePages(context.Background(), doc)
	assert.ErrorIs(t, err, ErrConversion)
	assert.Equal(t, int32(0), f.conv.calls.Load())
}

func TestEnsurePages_MissingSource(t *testing.T) {
	f := newFixture(t, 1)
	r := f.rasterizer()
	doc := &model.Document{ID: 5, FileType: model.FileTypePDF, StoragePath: "documents/missing.pdf"}

	_, err := r.EnsurePages(context.Background(), doc)
	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestEnsurePages_PageCountMismatch(t *testing.T) {
	f := newFixture(t, 3)
	f.opts.PageCounter = func(string) (int, error) { return 5, nil }
	r := f.rasterizer()
	doc := f.putDoc(t, 6, pdfBlob, "h")

	_, err := r.EnsurePages(context.Background(), doc)
	assert.ErrorIs(t, err, ErrConversion)
	ok, _ := f.cache.Exists(6)
	assert.False(t, ok)
}

func TestEnsurePages_UnreadablePageTreeIsTolerated(t *testing.T) {
	f := newFixture(t, 3)
	f.opts.PageCounter = func(string) (int, error) { return 0, errors.New("no trailer") }
	r := f.rasterizer()
	doc := f.putDoc(t, 8, pdfBlob, "h")

	ps, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, ps.Paths, 3)
}

func TestEnsurePages_ZeroPagesIsAFailure(t *testing.T) {
	f := newFixture(t, 0)
	r := f.rasterizer()
	doc := f.putDoc(t, 10, pdfBlob, "h")

	_, err := r.EnsurePages(context.Background(), doc)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestEnsurePages_Timeout(t *testing.T) {
	f := newFixture(t, 1)
	f.conv.block = true
	f.opts.Timeout = 50 * time.Millisecond
	r := f.rasterizer()
	doc := f.putDoc(t, 13, pdfBlob, "h")

	_, err := r.EnsurePages(context.Background(), doc)
	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsurePages_ReplacedSourceIsRerendered(t *testing.T) {
	f := newFixture(t, 2)
	r := f.rasterizer()
	doc := f.putDoc(t, 20, pdfBlob, "v1")

	_, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)

	f.conv.pages = 3
	f.opts.PageCounter = func(string) (int, error) { return 3, nil }
	r = f.rasterizer()
	doc = f.putDoc(t, 20, pdfBlob, "v2")

	ps, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, ps.Paths, 3)
	assert.Equal(t, int32(2), f.conv.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.cacheLookups.WithLabelValues("stale")))

	m, err := f.cache.Manifest(20)
	require.NoError(t, err)
	assert.Equal(t, "v2", m.SourceSHA256)
}

func TestEnsurePages_WithoutVerificationStaleCacheIsServed(t *testing.T) {
	f := newFixture(t, 2)
	f.opts.VerifySourceHash = false
	r := f.rasterizer()
	doc := f.putDoc(t, 21, pdfBlob, "v1")

	_, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)

	f.conv.pages = 3
	doc.ContentSHA256 = "v2"
	ps, err := r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, ps.FromCache)
	assert.Len(t, ps.Paths, 2)
	assert.Equal(t, int32(1), f.conv.calls.Load())
}

func TestEnsurePages_LegacyDirectoryWithoutManifest(t *testing.T) {
	f := newFixture(t, 2)
	dir := f.cache.Dir(30)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, cache.PageFile(1)), []byte("old"), 0o600))

	// No recorded hash: any non-empty directory is valid.
	r := f.rasterizer()
	ps, err := r.EnsurePages(context.Background(), &model.Document{ID: 30, FileType: model.FileTypePDF})
	require.NoError(t, err)
	assert.True(t, ps.FromCache)
	assert.Len(t, ps.Paths, 1)

	// With a recorded hash the directory is rebuilt.
	doc := f.putDoc(t, 30, pdfBlob, "known")
	ps, err = r.EnsurePages(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, ps.FromCache)
	assert.Len(t, ps.Paths, 2)
}

func TestPageSet_Page(t *testing.T) {
	ps := &PageSet{Paths: []string{"a", "b"}, Total: 2}

	p, ok := ps.Page(2)
	assert.True(t, ok)
	assert.Equal(t, "b", p)

	for _, n := range []int{0, -1, 3} {
		_, ok := ps.Page(n)
		assert.False(t, ok, n)
	}

	var nilSet *PageSet
	_, ok = nilSet.Page(1)
	assert.False(t, ok)
}
