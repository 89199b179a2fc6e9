package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available")
	}
	p := filepath.Join(t.TempDir(), "pdftoppm")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o700))
	return p
}

func TestPoppler_OrdersZeroPaddedOutputNumerically(t *testing.T) {
	// Mimics pdftoppm naming for documents with ten or more pages.
	bin := writeScript(t, `[ "$1" = "-r" ] || exit 2
[ "$2" = "150" ] || exit 3
[ "$3" = "-png" ] || exit 4
i=1
while [ $i -le 11 ]; do
  printf 'p%s' "$i" > "$(printf '%s-%02d.png' "$5" "$i")"
  i=$((i+1))
done
`)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("x"), 0o600))

	p := &Poppler{Binary: bin}
	paths, err := p.Convert(context.Background(), "/tmp/source.pdf", out, 150)
	require.NoError(t, err)
	require.Len(t, paths, 11)
	assert.Equal(t, filepath.Join(out, "page-01.png"), paths[0])
	assert.Equal(t, filepath.Join(out, "page-02.png"), paths[1])
	assert.Equal(t, filepath.Join(out, "page-10.png"), paths[9])
	assert.Equal(t, filepath.Join(out, "page-11.png"), paths[10])
}

func TestPoppler_ReportsStderrOnFailure(t *testing.T) {
	bin := writeScript(t, "echo 'Syntax Error: Couldn'\"'\"'t read xref table' >&2\nexit 1\n")

	p := &Poppler{Binary: bin}
	_, err := p.Convert(context.Background(), "/tmp/source.pdf", t.TempDir(), 120)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xref table")
}

func TestPoppler_HonoursContextDeadline(t *testing.T) {
	bin := writeScript(t, "exec sleep 10\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	p := &Poppler{Binary: bin}
	_, err := p.Convert(ctx, "/tmp/source.pdf", t.TempDir(), 120)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestPoppler_RejectsInvalidDPI(t *testing.T) {
	p := &Poppler{Binary: "pdftoppm"}
	_, err := p.Convert(context.Background(), "a.pdf", t.TempDir(), 0)
	assert.Error(t, err)
}

func TestPoppler_MissingBinary(t *testing.T) {
	p := &Poppler{Binary: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := p.Convert(context.Background(), "a.pdf", t.TempDir(), 120)
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.4\n")))
	assert.False(t, isPDF([]byte("PK\x03\x04")))
	assert.False(t, isPDF([]byte("%P")))
	assert.False(t, isPDF(nil))
}
