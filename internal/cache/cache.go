// Package cache stores rendered page images on disk, namespaced by document id.
//
// Layout under the root directory:
//
//	doc_<id>/current                  name of the render being served
//	doc_<id>/r_<n>/page_<n>.png       one image per page, n starting at 1
//	doc_<id>/r_<n>/manifest.json      written last, describes the render
//	.staging-doc_<id>-*               in-progress renders, renamed into place on commit
//
// A committed render directory is immutable and can be read without locking.
// A superseded render stays on disk for the retention period so requests
// that already hold its paths keep reading the pages they counted.
// Pages written directly under doc_<id>/ by older releases are still served
// until the first commit replaces them.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	manifestFile  = "manifest.json"
	currentFile   = "current"
	stagingPrefix = ".staging-"
	retiredPrefix = ".retired-"
	renderPrefix  = "r_"

	// DefaultRetention is how long a superseded render stays readable.
	DefaultRetention = 10 * time.Minute
)

var (
	pageFileRe   = regexp.MustCompile(`^page_(\d+)\.png$`)
	renderNameRe = regexp.MustCompile(`^r_[0-9A-Za-z]+$`)
)

// ErrNoManifest is returned by Manifest when the document directory has no manifest.
var ErrNoManifest = errors.New("render cache: manifest not found")

// Manifest describes a committed render of one document.
type Manifest struct {
	DocumentID   int64     `json:"document_id"`
	SourceSHA256 string    `json:"source_sha256,omitempty"`
	DPI          int       `json:"dpi"`
	Pages        int       `json:"pages"`
	CreatedAt    time.Time `json:"created_at"`
}

// DiskCache is a render cache rooted at a local (or network mounted) directory.
type DiskCache struct {
	root      string
	retention time.Duration
}

// Option configures a DiskCache.
type Option func(*DiskCache)

// WithRetention sets how long superseded renders are kept. Zero removes them
// on the next commit.
func WithRetention(d time.Duration) Option {
	return func(c *DiskCache) { c.retention = d }
}

// NewDiskCache creates the root directory if needed.
func NewDiskCache(root string, opts ...Option) (*DiskCache, error) {
	if root == "" {
		return nil, fmt.Errorf("render cache root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create render cache root: %w", err)
	}
	c := &DiskCache{root: root, retention: DefaultRetention}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Root returns the cache root directory.
func (c *DiskCache) Root() string {
	return c.root
}

// Dir returns the directory holding every render of a document.
func (c *DiskCache) Dir(docID int64) string {
	return filepath.Join(c.root, dirName(docID))
}

func dirName(docID int64) string {
	return "doc_" + strconv.FormatInt(docID, 10)
}

// PageFile returns the file name used for a 1-based page number.
func PageFile(page int) string {
	return fmt.Sprintf("page_%d.png", page)
}

// Exists reports whether the document directory holds at least one page.
func (c *DiskCache) Exists(docID int64) (bool, error) {
	pages, err := c.List(docID)
	if err != nil {
		return false, err
	}
	return len(pages) > 0, nil
}

// RenderDir returns the directory of the render currently served for docID.
// Without a current pointer it is the document directory itself.
func (c *DiskCache) RenderDir(docID int64) (string, error) {
	dir := c.Dir(docID)
	name, err := readCurrent(dir)
	if err != nil {
		return "", err
	}
	if name == "" {
		return dir, nil
	}
	return filepath.Join(dir, name), nil
}

func readCurrent(docDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(docDir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read current render: %w", err)
	}
	name := strings.TrimSpace(string(b))
	if !renderNameRe.MatchString(name) {
		return "", fmt.Errorf("read current render: invalid name %q", name)
	}
	return name, nil
}

// List returns page image paths of the current render ordered by page
// number. A missing directory yields an empty list.
func (c *DiskCache) List(docID int64) ([]string, error) {
	dir, err := c.RenderDir(docID)
	if err != nil {
		return nil, err
	}
	return listPages(dir)
}

// Manifest reads the manifest of the current render.
func (c *DiskCache) Manifest(docID int64) (*Manifest, error) {
	dir, err := c.RenderDir(docID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Purge removes every rendered page of a document.
func (c *DiskCache) Purge(docID int64) error {
	dir := c.Dir(docID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	retired, err := os.MkdirTemp(c.root, retiredPrefix+dirName(docID)+"-")
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	// Renaming first keeps readers from seeing a half-deleted directory.
	target := filepath.Join(retired, "pages")
	if err := os.Rename(dir, target); err != nil {
		_ = os.RemoveAll(retired)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("purge: %w", err)
	}
	return os.RemoveAll(retired)
}

// Stage opens a private staging directory for a new render of docID.
func (c *DiskCache) Stage(docID int64) (*Staging, error) {
	dir, err := os.MkdirTemp(c.root, stagingPrefix+dirName(docID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{cache: c, docID: docID, dir: dir}, nil
}

// Staging collects the pages of one render before they become visible.
type Staging struct {
	cache *DiskCache
	docID int64
	dir   string
	pages []int
	done  bool
}

// Dir returns the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Materialize writes the image bytes of a 1-based page into the staging directory.
func (s *Staging) Materialize(page int, data []byte) (string, error) {
	if s.done {
		return "", fmt.Errorf("staging for document %d already closed", s.docID)
	}
	if page < 1 {
		return "", fmt.Errorf("invalid page number %d", page)
	}
	path := filepath.Join(s.dir, PageFile(page))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write page %d: %w", page, err)
	}
	s.pages = append(s.pages, page)
	return path, nil
}

// Commit writes the manifest and atomically publishes the staged pages,
// replacing any previous render. Pages must be contiguous from 1.
func (s *Staging) Commit(m Manifest) ([]string, error) {
	if s.done {
		return nil, fmt.Errorf("staging for document %d already closed", s.docID)
	}
	sort.Ints(s.pages)
	for i, p := range s.pages {
		if p != i+1 {
			return nil, fmt.Errorf("staged pages are not contiguous: missing page %d", i+1)
		}
	}

	m.DocumentID = s.docID
	m.Pages = len(s.pages)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, manifestFile), b, 0o640); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	docDir := s.cache.Dir(s.docID)
	if err := os.MkdirAll(docDir, 0o750); err != nil {
		return nil, fmt.Errorf("publish render: %w", err)
	}
	prev, err := readCurrent(docDir)
	if err != nil {
		prev = ""
	}
	name := renderPrefix + strings.TrimPrefix(filepath.Base(s.dir), stagingPrefix+dirName(s.docID)+"-")
	live := filepath.Join(docDir, name)
	if err := os.Rename(s.dir, live); err != nil {
		return nil, fmt.Errorf("publish render: %w", err)
	}
	s.done = true
	if err := writeCurrent(docDir, name); err != nil {
		_ = os.RemoveAll(live)
		return nil, err
	}
	s.cache.prune(docDir, name, prev)
	return listPages(live)
}

// writeCurrent swaps the pointer with a rename so readers never see a
// partial name. Concurrent committers both publish complete renders; the
// last rename decides which one is served.
func writeCurrent(docDir, name string) error {
	f, err := os.CreateTemp(docDir, "."+currentFile+"-")
	if err != nil {
		return fmt.Errorf("publish render: %w", err)
	}
	tmp := f.Name()
	_, werr := f.WriteString(name)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, filepath.Join(docDir, currentFile))
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish render: %w", werr)
	}
	return nil
}

// prune drops renders superseded longer than the retention period. The render
// that was current until now gets its clock reset so it lives a full period.
// Pages from the pre-pointer layout go once a versioned render has been
// served for a full commit.
func (c *DiskCache) prune(docDir, current, prev string) {
	now := time.Now()
	if prev != "" && prev != current {
		_ = os.Chtimes(filepath.Join(docDir, prev), now, now)
	}
	entries, err := os.ReadDir(docDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir() && renderNameRe.MatchString(name):
			if name == current {
				continue
			}
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) < c.retention {
				continue
			}
			_ = os.RemoveAll(filepath.Join(docDir, name))
		case !e.IsDir() && prev != "" && (name == manifestFile || pageFileRe.MatchString(name)):
			_ = os.Remove(filepath.Join(docDir, name))
		}
	}
}

// Abort discards the staging directory. It is safe to call after Commit.
func (s *Staging) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return os.RemoveAll(s.dir)
}

func listPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read render cache: %w", err)
	}

	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
