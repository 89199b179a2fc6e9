// Package watermark burns a visible ownership marker into page images.
package watermark

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// DefaultOrigin is the top-left corner of the marker text.
	DefaultOrigin = image.Pt(20, 20)
	// DefaultColor is opaque red.
	DefaultColor = color.RGBA{R: 255, A: 255}
)

// Stamper draws a fixed text marker at a fixed position and color.
// A Stamper is immutable and safe for concurrent use.
type Stamper struct {
	text   string
	origin image.Point
	color  color.Color
	face   font.Face
}

// Option customizes a Stamper.
type Option func(*Stamper)

// WithOrigin moves the marker's top-left corner.
func WithOrigin(p image.Point) Option {
	return func(s *Stamper) { s.origin = p }
}

// WithColor changes the marker color.
func WithColor(c color.Color) Option {
	return func(s *Stamper) { s.color = c }
}

// WithFace changes the font face.
func WithFace(f font.Face) Option {
	return func(s *Stamper) { s.face = f }
}

// New returns a Stamper that writes text.
func New(text string, opts ...Option) *Stamper {
	s := &Stamper{
		text:   text,
		origin: DefaultOrigin,
		color:  DefaultColor,
		face:   basicfont.Face7x13,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Text returns the marker text.
func (s *Stamper) Text() string {
	return s.text
}

// Stamp returns a copy of src with the marker drawn on it. src is never modified.
func (s *Stamper) Stamp(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	if s.text == "" {
		return dst
	}

	ascent := s.face.Metrics().Ascent
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(s.color),
		Face: s.face,
		Dot: fixed.Point26_6{
			X: fixed.I(b.Min.X + s.origin.X),
			Y: fixed.I(b.Min.Y+s.origin.Y) + ascent,
		},
	}
	d.DrawString(s.text)
	return dst
}

// Bounds returns the rectangle the marker occupies on an image with the given bounds.
func (s *Stamper) Bounds(imgBounds image.Rectangle) image.Rectangle {
	width := font.MeasureString(s.face, s.text).Ceil()
	height := s.face.Metrics().Height.Ceil()
	min := imgBounds.Min.Add(s.origin)
	return image.Rectangle{Min: min, Max: min.Add(image.Pt(width, height))}.Intersect(imgBounds)
}
