package document

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func typed(t *testing.T, s string) *Document {
	t.Helper()
	d := New("/tmp/docs/doc_20260824_120000.txt", t0)
	for _, r := range s {
		if r == '\n' {
			d.InsertNewline()
		} else {
			d.InsertRune(r)
		}
	}
	return d
}

func TestTypingAdvancesCursorAndStatus(t *testing.T) {
	d := typed(t, "etyper")
	if d.Cursor() != 6 {
		t.Fatalf("cursor = %d, want 6", d.Cursor())
	}
	if !d.Dirty() {
		t.Fatal("document not dirty after typing")
	}
	l := Wrap(d.Runes(), 40)
	if got := d.Status(l); got != "*doc_20260824_120000.txt L1:7 6c" {
		t.Errorf("status = %q", got)
	}
}

func TestStatusCleanAfterMarkSaved(t *testing.T) {
	d := typed(t, "hi")
	d.MarkSaved(t0)
	l := Wrap(d.Runes(), 40)
	if got := d.Status(l); got != "doc_20260824_120000.txt L1:3 2c" {
		t.Errorf("status = %q", got)
	}
	if !d.LastSaved().Equal(t0) {
		t.Errorf("lastSaved = %v, want %v", d.LastSaved(), t0)
	}
}

func TestInsertMidText(t *testing.T) {
	d := typed(t, "held")
	d.SetCursor(3)
	d.InsertRune('l')
	if got := d.String(); got != "helld" {
		t.Errorf("text = %q, want %q", got, "helld")
	}
	if d.Cursor() != 4 {
		t.Errorf("cursor = %d, want 4", d.Cursor())
	}
}

func TestDeleteBeforeAndAfter(t *testing.T) {
	d := typed(t, "abc")
	d.SetCursor(0)
	if d.DeleteBefore() {
		t.Error("DeleteBefore at start should report no change")
	}
	if !d.DeleteAfter() || d.String() != "bc" {
		t.Errorf("text = %q after DeleteAfter, want %q", d.String(), "bc")
	}
	d.SetCursor(2)
	if d.DeleteAfter() {
		t.Error("DeleteAfter at end should report no change")
	}
	if !d.DeleteBefore() || d.String() != "b" || d.Cursor() != 1 {
		t.Errorf("text = %q cursor = %d, want %q / 1", d.String(), d.Cursor(), "b")
	}
}

func TestHorizontalMovementCrossesWrapBoundary(t *testing.T) {
	d := typed(t, "ab cd")
	l := Wrap(d.Runes(), 4) // "ab" / "cd"

	d.SetCursor(2) // end of first visual line, on the consumed space
	d.MoveRight()
	if row, col := l.ToVisual(d.Cursor()); row != 1 || col != 0 {
		t.Errorf("after MoveRight: (%d,%d), want (1,0)", row, col)
	}
	d.MoveLeft()
	if row, col := l.ToVisual(d.Cursor()); row != 0 || col != 2 {
		t.Errorf("after MoveLeft: (%d,%d), want (0,2)", row, col)
	}
}

func TestStickyColumnAcrossShortLine(t *testing.T) {
	// Rows: 14 chars, 4 chars, 20 chars.
	d := typed(t, "abcdefghijklmn\nabcd\nabcdefghijklmnopqrst")
	l := Wrap(d.Runes(), 30)

	d.SetCursor(l.ToOffset(0, 10))
	d.MoveDown(l)
	if row, col := l.ToVisual(d.Cursor()); row != 1 || col != 4 {
		t.Fatalf("on short line: (%d,%d), want clamp to (1,4)", row, col)
	}
	d.MoveDown(l)
	if row, col := l.ToVisual(d.Cursor()); row != 2 || col != 10 {
		t.Fatalf("on long line: (%d,%d), want sticky column restored (2,10)", row, col)
	}
	d.MoveUp(l)
	d.MoveUp(l)
	if row, col := l.ToVisual(d.Cursor()); row != 0 || col != 10 {
		t.Fatalf("back on top: (%d,%d), want (0,10)", row, col)
	}
}

func TestHorizontalMoveClearsStickyColumn(t *testing.T) {
	d := typed(t, "abcdefghij\nab\nabcdefghij")
	l := Wrap(d.Runes(), 30)

	d.SetCursor(l.ToOffset(0, 8))
	d.MoveDown(l) // clamped to col 2
	d.MoveLeft()  // sticky forgotten
	d.MoveDown(l)
	if _, col := l.ToVisual(d.Cursor()); col != 1 {
		t.Errorf("col = %d, want 1 (new sticky from post-MoveLeft position)", col)
	}
}

func TestEditClearsStickyColumn(t *testing.T) {
	d := typed(t, "abcdefghij\nab\nabcdefghij")
	l := Wrap(d.Runes(), 30)

	d.SetCursor(l.ToOffset(0, 8))
	d.MoveDown(l)
	d.InsertRune('x')
	l = Wrap(d.Runes(), 30)
	d.MoveDown(l)
	if _, col := l.ToVisual(d.Cursor()); col != 3 {
		t.Errorf("col = %d, want 3 (sticky restarts at post-edit position)", col)
	}
}

func TestMoveVerticalAtEdgesStays(t *testing.T) {
	d := typed(t, "one\ntwo")
	l := Wrap(d.Runes(), 10)

	d.SetCursor(0)
	d.MoveUp(l)
	if d.Cursor() != 0 {
		t.Errorf("cursor = %d after MoveUp on first row, want 0", d.Cursor())
	}
	d.SetCursor(d.Len())
	d.MoveDown(l)
	if d.Cursor() != d.Len() {
		t.Errorf("cursor = %d after MoveDown on last row, want %d", d.Cursor(), d.Len())
	}
}

func TestLineStartAndEnd(t *testing.T) {
	d := typed(t, "the quick brown fox")
	l := Wrap(d.Runes(), 10) // "the quick" / "brown fox"

	d.SetCursor(l.ToOffset(1, 3))
	d.MoveLineStart(l)
	if row, col := l.ToVisual(d.Cursor()); row != 1 || col != 0 {
		t.Errorf("line start: (%d,%d), want (1,0)", row, col)
	}
	d.MoveLineEnd(l)
	if row, col := l.ToVisual(d.Cursor()); row != 1 || col != 9 {
		t.Errorf("line end: (%d,%d), want (1,9)", row, col)
	}
}
