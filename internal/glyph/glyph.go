// Package glyph renders monospace text into 1-bit buffers. A Provider
// is the fixed capability interface the rasterizer draws through; the
// implementation (a loaded OpenType face or the builtin bitmap face)
// is selected once at construction, never at call sites.
package glyph

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// FallbackRune replaces characters the active face cannot render.
const FallbackRune = '?'

// Provider turns runes into pixels at a fixed cell size.
type Provider interface {
	// CellWidth is the fixed advance of one glyph in pixels.
	CellWidth() int
	// CellHeight is the full character cell height in pixels.
	CellHeight() int
	// DrawString draws s with its cell top-left corner at (x, y).
	DrawString(dst draw.Image, x, y int, s string, ink color.Color)
	// Sanitize maps runes the face cannot render to FallbackRune.
	Sanitize(s string) string
}

// faceProvider adapts a font.Face.
type faceProvider struct {
	face   font.Face
	width  int
	height int
	ascent int
}

// NewFace wraps a monospace font.Face as a Provider. The cell width is
// measured from 'M'.
func NewFace(face font.Face) Provider {
	m := face.Metrics()
	adv, ok := face.GlyphAdvance('M')
	if !ok {
		adv = m.Height
	}
	return &faceProvider{
		face:   face,
		width:  adv.Ceil(),
		height: (m.Ascent + m.Descent).Ceil(),
		ascent: m.Ascent.Ceil(),
	}
}

// LoadTTF loads a TrueType/OpenType face from path at the given pixel
// size and wraps it as a Provider.
func LoadTTF(path string, size int) (Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("glyph: read font: %w", err)
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("glyph: parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("glyph: build face: %w", err)
	}
	return NewFace(face), nil
}

// Builtin returns the fallback Provider backed by the fixed 7x13
// bitmap face. It is always available and needs no font file.
func Builtin() Provider {
	return NewFace(basicfont.Face7x13)
}

func (p *faceProvider) CellWidth() int { return p.width }

func (p *faceProvider) CellHeight() int { return p.height }

func (p *faceProvider) DrawString(dst draw.Image, x, y int, s string, ink color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(ink),
		Face: p.face,
		Dot:  fixed.P(x, y+p.ascent),
	}
	d.DrawString(p.Sanitize(s))
}

func (p *faceProvider) Sanitize(s string) string {
	clean := true
	for _, r := range s {
		if _, ok := p.face.GlyphAdvance(r); !ok {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if _, ok := p.face.GlyphAdvance(r); !ok {
			r = FallbackRune
		}
		out = append(out, r)
	}
	return string(out)
}
