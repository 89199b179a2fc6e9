package model

import "time"

// FileType is the declared format of a document's source blob.
type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeDOC   FileType = "DOC"
	FileTypeDOCX  FileType = "DOCX"
	FileTypeImage FileType = "IMAGE"
	FileTypeNews  FileType = "NEWS"
)

// FileTypes lists every accepted file type tag.
var FileTypes = []FileType{FileTypePDF, FileTypeDOC, FileTypeDOCX, FileTypeImage, FileTypeNews}

// Valid reports whether t is one of the known file type tags.
func (t FileType) Valid() bool {
	for _, ft := range FileTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// Paginated reports whether documents of this type can be split into page images.
func (t FileType) Paginated() bool {
	return t == FileTypePDF
}

// Document is a protected company document.
// This is a pure domain model with no database-specific dependencies or tags.
// AccessibleBy and AccessibleGroups hold user and group ids allowed to view it.
type Document struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	FileType         FileType  `json:"file_type"`
	StoragePath      string    `json:"storage_path"`
	ContentSHA256    string    `json:"content_sha256"`
	Size             int64     `json:"size"`
	ContentType      string    `json:"content_type"`
	AccessibleBy     []int64   `json:"accessible_by"`
	AccessibleGroups []int64   `json:"accessible_groups"`
	CreatedAt        time.Time `json:"created_at"`
}
