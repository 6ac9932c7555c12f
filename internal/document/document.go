// Package document holds the logical text being edited and its wrapped
// visual layout. The document knows nothing about pixels: it exposes
// rune offsets and visual (row, col) coordinates, and the renderer
// turns those into a frame.
package document

import (
	"fmt"
	"path/filepath"
	"time"
)

// Document is the editable text with its cursor and persistence state.
// The cursor is a rune offset in [0, len]; it is never split from the
// text it indexes.
type Document struct {
	text   []rune
	cursor int
	dirty  bool

	path      string
	createdAt time.Time
	lastSaved time.Time

	// stickyCol is the target column vertical movement aims for, or -1
	// when no vertical run is active.
	stickyCol int
}

// New returns an empty document bound to path.
func New(path string, createdAt time.Time) *Document {
	return &Document{path: path, createdAt: createdAt, stickyCol: -1}
}

// FromText returns a document holding text with the cursor at the end,
// the state after reopening a saved file.
func FromText(path, text string, createdAt time.Time) *Document {
	d := New(path, createdAt)
	d.text = []rune(text)
	d.cursor = len(d.text)
	return d
}

func (d *Document) String() string { return string(d.text) }

// Runes returns the backing rune slice. Callers must not mutate it.
func (d *Document) Runes() []rune { return d.text }

func (d *Document) Len() int             { return len(d.text) }
func (d *Document) Cursor() int          { return d.cursor }
func (d *Document) Dirty() bool          { return d.dirty }
func (d *Document) Path() string         { return d.path }
func (d *Document) Filename() string     { return filepath.Base(d.path) }
func (d *Document) CreatedAt() time.Time { return d.createdAt }
func (d *Document) LastSaved() time.Time { return d.lastSaved }

// MarkSaved records a successful save and clears the dirty flag.
func (d *Document) MarkSaved(at time.Time) {
	d.dirty = false
	d.lastSaved = at
}

// InsertRune inserts r at the cursor and advances past it.
func (d *Document) InsertRune(r rune) {
	d.text = append(d.text, 0)
	copy(d.text[d.cursor+1:], d.text[d.cursor:])
	d.text[d.cursor] = r
	d.cursor++
	d.dirty = true
	d.stickyCol = -1
}

// InsertNewline starts a new paragraph at the cursor.
func (d *Document) InsertNewline() {
	d.InsertRune('\n')
}

// DeleteBefore removes the rune left of the cursor. Reports whether
// anything changed.
func (d *Document) DeleteBefore() bool {
	if d.cursor == 0 {
		return false
	}
	d.text = append(d.text[:d.cursor-1], d.text[d.cursor:]...)
	d.cursor--
	d.dirty = true
	d.stickyCol = -1
	return true
}

// DeleteAfter removes the rune under the cursor. Reports whether
// anything changed.
func (d *Document) DeleteAfter() bool {
	if d.cursor >= len(d.text) {
		return false
	}
	d.text = append(d.text[:d.cursor], d.text[d.cursor+1:]...)
	d.dirty = true
	d.stickyCol = -1
	return true
}

// MoveLeft moves one rune back, crossing wrap boundaries transparently.
func (d *Document) MoveLeft() {
	if d.cursor > 0 {
		d.cursor--
	}
	d.stickyCol = -1
}

// MoveRight moves one rune forward.
func (d *Document) MoveRight() {
	if d.cursor < len(d.text) {
		d.cursor++
	}
	d.stickyCol = -1
}

// MoveUp moves one visual row up, keeping the sticky target column
// across rows that are shorter than it.
func (d *Document) MoveUp(l *Layout) { d.moveVertical(l, -1) }

// MoveDown moves one visual row down.
func (d *Document) MoveDown(l *Layout) { d.moveVertical(l, +1) }

func (d *Document) moveVertical(l *Layout, delta int) {
	row, col := l.ToVisual(d.cursor)
	if d.stickyCol < 0 {
		d.stickyCol = col
	}
	row += delta
	if row < 0 || row >= l.LineCount() {
		return
	}
	d.cursor = l.ToOffset(row, d.stickyCol)
}

// MoveLineStart moves to column 0 of the current visual row.
func (d *Document) MoveLineStart(l *Layout) {
	row, _ := l.ToVisual(d.cursor)
	d.cursor = l.ToOffset(row, 0)
	d.stickyCol = -1
}

// MoveLineEnd moves past the last rune of the current visual row.
func (d *Document) MoveLineEnd(l *Layout) {
	row, _ := l.ToVisual(d.cursor)
	ln := l.LineAt(row)
	d.cursor = ln.End
	d.stickyCol = -1
}

// SetCursor clamps n into [0, len] and clears the sticky column.
func (d *Document) SetCursor(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(d.text) {
		n = len(d.text)
	}
	d.cursor = n
	d.stickyCol = -1
}

// Status renders the status line: dirty marker, filename, 1-based
// visual cursor position, rune count.
func (d *Document) Status(l *Layout) string {
	marker := ""
	if d.dirty {
		marker = "*"
	}
	row, col := l.ToVisual(d.cursor)
	return fmt.Sprintf("%s%s L%d:%d %dc", marker, d.Filename(), row+1, col+1, len(d.text))
}
