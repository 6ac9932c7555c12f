// Package render turns a screenful of visual text rows into the packed
// frame the display consumes: glyphs, an inverted cursor block, and the
// status bar under a separator rule.
package render

import (
	"image"

	"etyper/internal/glyph"
	"etyper/internal/mono"
)

// Screen is one frame's worth of content. Lines are visual rows already
// scrolled to the viewport; Cursor is in screen (col, row) cells, with
// a negative coordinate hiding the cursor block.
type Screen struct {
	Lines  []string
	Cursor image.Point
	Status string
}

// Renderer owns the fixed page geometry derived from the glyph cell
// size, the panel size and the margins.
type Renderer struct {
	glyphs glyph.Provider

	width, height    int
	marginX, marginY int
	cellW, cellH     int

	cols, rows int
	statusTop  int // y of the separator rule
}

// statusGap separates the rule from the text above and below it.
const statusGap = 2

// New computes the text grid for the given panel and margins. The
// bottom of the panel is reserved for the status bar.
func New(p glyph.Provider, width, height, marginX, marginY int) *Renderer {
	r := &Renderer{
		glyphs:  p,
		width:   width,
		height:  height,
		marginX: marginX,
		marginY: marginY,
		cellW:   p.CellWidth(),
		cellH:   p.CellHeight(),
	}
	statusH := r.cellH + 1 + 2*statusGap
	r.cols = (width - 2*marginX) / r.cellW
	r.rows = (height - 2*marginY - statusH) / r.cellH
	r.statusTop = height - marginY - r.cellH - statusGap - 1
	return r
}

// Columns returns the number of character cells per row. This is the
// wrap width for the document layout.
func (r *Renderer) Columns() int { return r.cols }

// Rows returns the number of text rows above the status bar.
func (r *Renderer) Rows() int { return r.rows }

// Draw rasterizes s into dst, overwriting the whole buffer.
func (r *Renderer) Draw(dst *mono.Buffer, s Screen) {
	dst.Fill(mono.On)

	for i, line := range s.Lines {
		if i >= r.rows {
			break
		}
		r.glyphs.DrawString(dst, r.marginX, r.marginY+i*r.cellH, truncate(line, r.cols), mono.Off)
	}

	if s.Cursor.X >= 0 && s.Cursor.Y >= 0 && s.Cursor.Y < r.rows && s.Cursor.X <= r.cols {
		r.drawCursor(dst, s)
	}

	// Separator rule, then the status text under it.
	for x := r.marginX; x < r.width-r.marginX; x++ {
		dst.SetBit(x, r.statusTop, mono.Off)
	}
	r.glyphs.DrawString(dst, r.marginX, r.statusTop+1+statusGap, truncate(s.Status, r.cols), mono.Off)
}

func truncate(s string, cols int) string {
	runes := []rune(s)
	if len(runes) <= cols {
		return s
	}
	return string(runes[:cols])
}

// drawCursor inverts the cursor cell: black block, glyph re-inked in
// white when a rune sits under it.
func (r *Renderer) drawCursor(dst *mono.Buffer, s Screen) {
	x0 := r.marginX + s.Cursor.X*r.cellW
	y0 := r.marginY + s.Cursor.Y*r.cellH
	for y := y0; y < y0+r.cellH; y++ {
		for x := x0; x < x0+r.cellW; x++ {
			dst.SetBit(x, y, mono.Off)
		}
	}
	if s.Cursor.Y < len(s.Lines) {
		line := []rune(s.Lines[s.Cursor.Y])
		if s.Cursor.X < len(line) {
			r.glyphs.DrawString(dst, x0, y0, string(line[s.Cursor.X]), mono.On)
		}
	}
}
