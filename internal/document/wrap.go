package document

// Line is one visual row: a half-open range of rune offsets into the
// document text. A soft wrap consumes the break space, so the space
// offset belongs to no line; a paragraph's terminating newline likewise
// sits between End and the next line's Start.
type Line struct {
	Start, End int
}

// Len returns the number of runes displayed on the line.
func (l Line) Len() int { return l.End - l.Start }

// Layout is the wrapped visual form of a rune slice at a fixed column
// width. It is recomputed after every edit; offsets always refer to the
// text it was built from.
type Layout struct {
	lines []Line
	width int
}

// Wrap lays out text greedily at the given column width. Paragraphs
// split on '\n'; within a paragraph the break goes at the last space
// that fits, and words longer than the width are hard-split.
func Wrap(text []rune, width int) *Layout {
	if width < 1 {
		width = 1
	}
	l := &Layout{width: width}

	paraStart := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != '\n' {
			continue
		}
		l.wrapParagraph(text, paraStart, i)
		paraStart = i + 1
	}
	return l
}

func (l *Layout) wrapParagraph(text []rune, start, end int) {
	for {
		if end-start <= l.width {
			l.lines = append(l.lines, Line{Start: start, End: end})
			return
		}
		// Last space within the width breaks the line and is consumed.
		split := -1
		for i := start + l.width; i > start; i-- {
			if text[i] == ' ' {
				split = i
				break
			}
		}
		if split < 0 {
			// No break point: hard-split the word.
			l.lines = append(l.lines, Line{Start: start, End: start + l.width})
			start += l.width
			continue
		}
		l.lines = append(l.lines, Line{Start: start, End: split})
		start = split + 1
	}
}

// Width returns the column width the layout was built at.
func (l *Layout) Width() int { return l.width }

// LineCount returns the number of visual rows. Never zero: an empty
// document still has one empty row.
func (l *Layout) LineCount() int { return len(l.lines) }

// LineAt returns the visual row, clamped to the layout.
func (l *Layout) LineAt(row int) Line {
	if row < 0 {
		row = 0
	}
	if row >= len(l.lines) {
		row = len(l.lines) - 1
	}
	return l.lines[row]
}

// ToVisual maps a rune offset to (row, col). An offset sitting on a
// consumed break (soft-wrap space or terminating newline) maps to the
// end of the row it terminates.
func (l *Layout) ToVisual(offset int) (row, col int) {
	for i, ln := range l.lines {
		if i+1 < len(l.lines) {
			next := l.lines[i+1]
			// A hard split has no consumed rune between the rows, so
			// the boundary offset belongs to the next row.
			if offset < next.Start && (offset < ln.End || next.Start > ln.End) {
				return i, min(offset-ln.Start, ln.Len())
			}
			continue
		}
		return i, min(offset-ln.Start, ln.Len())
	}
	return 0, 0
}

// ToOffset maps (row, col) back to a rune offset, clamping col to the
// row's displayed length.
func (l *Layout) ToOffset(row, col int) int {
	ln := l.LineAt(row)
	if col < 0 {
		col = 0
	}
	if col > ln.Len() {
		col = ln.Len()
	}
	return ln.Start + col
}
