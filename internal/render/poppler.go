package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Converter turns a paginated source file into one image per page.
// It returns the produced files ordered by page number.
type Converter interface {
	Convert(ctx context.Context, src, outDir string, dpi int) ([]string, error)
}

// Poppler converts PDFs with poppler's pdftoppm.
type Poppler struct {
	// Binary is the pdftoppm executable, resolved through PATH when relative.
	Binary string
}

var popplerOutputRe = regexp.MustCompile(`^page-(\d+)\.png$`)

// Convert runs `pdftoppm -r <dpi> -png <src> <outDir>/page`. pdftoppm names
// its outputs page-1.png or page-01.png depending on the page count, so the
// result is ordered by the parsed number rather than by name.
func (p *Poppler) Convert(ctx context.Context, src, outDir string, dpi int) ([]string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %d", dpi)
	}

	cmd := exec.CommandContext(ctx, bin, "-r", strconv.Itoa(dpi), "-png", src, filepath.Join(outDir, "page"))
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("pdftoppm: %w", ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("pdftoppm: %w", err)
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, msg)
	}
	return collectOutputs(outDir)
}

func collectOutputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type out struct {
		n    int
		path string
	}
	outs := make([]out, 0, len(entries))
	for _, e := range entries {
		m := popplerOutputRe.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		outs = append(outs, out{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].n < outs[j].n })

	paths := make([]string, len(outs))
	for i, o := range outs {
		paths[i] = o.path
	}
	return paths, nil
}
