package render

import (
	"github.com/tsawler/tabula"
	"github.com/tsawler/tabula/format"
)

// sniffLen is how many leading bytes are inspected to detect the blob format.
const sniffLen = 512

// PageCounter reports the number of pages declared by a PDF's page tree.
type PageCounter func(path string) (int, error)

// TabulaPageCount reads the page tree with tabula without rendering anything.
func TabulaPageCount(path string) (int, error) {
	ext := tabula.Open(path)
	defer ext.Close()
	return ext.PageCount()
}

// isPDF reports whether the leading bytes of a blob carry the PDF signature.
func isPDF(head []byte) bool {
	return format.DetectFromMagic(head) == format.PDF
}
