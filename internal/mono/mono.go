// Package mono provides the packed 1-bit monochrome image format the
// SSD1683 consumes: 8 pixels per byte, most-significant bit first, bit
// value 1 = white, 0 = black. It also computes the minimal changed
// rectangle between two buffers, which the scheduler uses to decide
// between full and partial refreshes.
package mono

import (
	"bytes"
	"image"
	"image/color"
)

// Bit is a 1-bit color: On is white, Off is black (ink).
type Bit bool

const (
	On  Bit = true  // white
	Off Bit = false // black
)

// RGBA implements color.Color.
func (b Bit) RGBA() (r, g, bl, a uint32) {
	if b {
		return 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF
	}
	return 0, 0, 0, 0xFFFF
}

func toBit(c color.Color) color.Color {
	if b, ok := c.(Bit); ok {
		return b
	}
	r, g, b, _ := c.RGBA()
	y := (299*r + 587*g + 114*b + 500) / 1000
	return Bit(y >= 0x8000)
}

// BitModel converts colors to Bit by luma threshold.
var BitModel = color.ModelFunc(toBit)

// Buffer is a packed horizontal-MSB 1-bit image. Its length is fixed
// at (width/8)*height for the lifetime of the display.
type Buffer struct {
	Pix    []byte
	Stride int // bytes per row
	Rect   image.Rectangle
}

// NewBuffer allocates an all-white buffer. Width must be a multiple
// of 8 so rows pack into whole bytes.
func NewBuffer(w, h int) *Buffer {
	if w <= 0 || w%8 != 0 || h <= 0 {
		panic("mono: width must be a positive multiple of 8")
	}
	b := &Buffer{
		Pix:    make([]byte, w/8*h),
		Stride: w / 8,
		Rect:   image.Rect(0, 0, w, h),
	}
	b.Fill(On)
	return b
}

func (b *Buffer) ColorModel() color.Model { return BitModel }

func (b *Buffer) Bounds() image.Rectangle { return b.Rect }

func (b *Buffer) At(x, y int) color.Color { return b.BitAt(x, y) }

// BitAt returns the bit at (x, y); out-of-bounds reads are white.
func (b *Buffer) BitAt(x, y int) Bit {
	if !(image.Point{X: x, Y: y}.In(b.Rect)) {
		return On
	}
	offset, mask := b.pixOffset(x, y)
	return Bit(b.Pix[offset]&mask != 0)
}

// Set implements draw.Image.
func (b *Buffer) Set(x, y int, c color.Color) {
	b.SetBit(x, y, BitModel.Convert(c).(Bit))
}

// SetBit sets the bit at (x, y); out-of-bounds writes are dropped.
func (b *Buffer) SetBit(x, y int, v Bit) {
	if !(image.Point{X: x, Y: y}.In(b.Rect)) {
		return
	}
	offset, mask := b.pixOffset(x, y)
	if v {
		b.Pix[offset] |= mask
	} else {
		b.Pix[offset] &^= mask
	}
}

// Fill sets every pixel to v.
func (b *Buffer) Fill(v Bit) {
	fill := byte(0x00)
	if v {
		fill = 0xFF
	}
	for i := range b.Pix {
		b.Pix[i] = fill
	}
}

// Clone returns an independent copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Pix: pix, Stride: b.Stride, Rect: b.Rect}
}

// CopyFrom overwrites b's pixels with src's. Geometries must match.
func (b *Buffer) CopyFrom(src *Buffer) {
	if src.Stride != b.Stride || len(src.Pix) != len(b.Pix) {
		panic("mono: buffer geometry mismatch")
	}
	copy(b.Pix, src.Pix)
}

func (b *Buffer) pixOffset(x, y int) (offset int, mask byte) {
	offset = (y-b.Rect.Min.Y)*b.Stride + (x-b.Rect.Min.X)/8
	mask = 0x80 >> uint(x&7)
	return
}

// Diff returns the minimal axis-aligned rectangle containing every
// differing bit between old and new, with X bounds aligned to the
// packed byte columns. ok is false when the buffers are identical.
func Diff(old, new *Buffer) (r image.Rectangle, ok bool) {
	if old.Stride != new.Stride || len(old.Pix) != len(new.Pix) {
		// Geometry changed: everything differs.
		return new.Rect, true
	}

	stride := new.Stride
	height := new.Rect.Dy()

	minRow, maxRow := height, -1
	minCol, maxCol := stride, -1

	for y := 0; y < height; y++ {
		rowStart := y * stride
		rowEnd := rowStart + stride
		if bytes.Equal(old.Pix[rowStart:rowEnd], new.Pix[rowStart:rowEnd]) {
			continue
		}
		if y < minRow {
			minRow = y
		}
		maxRow = y
		for x := 0; x < stride; x++ {
			if old.Pix[rowStart+x] != new.Pix[rowStart+x] {
				if x < minCol {
					minCol = x
				}
				if x > maxCol {
					maxCol = x
				}
			}
		}
	}

	if maxRow < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minCol*8, minRow, (maxCol+1)*8, maxRow+1), true
}

// Coverage returns the fraction of the buffer area covered by r.
func (b *Buffer) Coverage(r image.Rectangle) float64 {
	total := b.Rect.Dx() * b.Rect.Dy()
	if total == 0 {
		return 0
	}
	area := r.Dx() * r.Dy()
	return float64(area) / float64(total)
}
