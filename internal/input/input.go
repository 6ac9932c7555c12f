// Package input models key events independently of the device that
// produced them. The editor loop consumes Events through the Source
// interface; the concrete source is a tcell terminal screen, which
// works both on the board's console and in a desktop session.
package input

import (
	"time"

	"github.com/gdamore/tcell/v2"
)

// Key names the non-rune keys the editor reacts to.
type Key int

const (
	KeyRune Key = iota
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyHome
	KeyEnd
	KeyEscape
)

// Mod is a modifier bitmask.
type Mod uint8

const (
	ModCtrl Mod = 1 << iota
	ModShift
	ModAlt
)

// Event is one key press. Rune is meaningful only when Key == KeyRune.
type Event struct {
	Key  Key
	Rune rune
	Mod  Mod
}

// Ctrl reports whether the control modifier is held.
func (e Event) Ctrl() bool { return e.Mod&ModCtrl != 0 }

// Source delivers key events with a bounded wait.
type Source interface {
	// Poll returns the next event, or ok=false when timeout elapses
	// with no input. A closed source returns an error.
	Poll(timeout time.Duration) (ev Event, ok bool, err error)
	Close() error
}

// translate converts a tcell key event, applying the keyboard layout
// remap to plain runes. ok is false for keys the editor ignores.
func translate(ev *tcell.EventKey, l *Layout) (Event, bool) {
	var mod Mod
	if ev.Modifiers()&tcell.ModCtrl != 0 {
		mod |= ModCtrl
	}
	if ev.Modifiers()&tcell.ModShift != 0 {
		mod |= ModShift
	}
	if ev.Modifiers()&tcell.ModAlt != 0 {
		mod |= ModAlt
	}

	switch k := ev.Key(); k {
	case tcell.KeyRune:
		r := ev.Rune()
		if mod&ModCtrl == 0 {
			r = l.Remap(r)
		}
		return Event{Key: KeyRune, Rune: r, Mod: mod}, true
	case tcell.KeyEnter:
		return Event{Key: KeyEnter, Mod: mod}, true
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		return Event{Key: KeyBackspace, Mod: mod}, true
	case tcell.KeyDelete:
		return Event{Key: KeyDelete, Mod: mod}, true
	case tcell.KeyLeft:
		return Event{Key: KeyLeft, Mod: mod}, true
	case tcell.KeyRight:
		return Event{Key: KeyRight, Mod: mod}, true
	case tcell.KeyUp:
		return Event{Key: KeyUp, Mod: mod}, true
	case tcell.KeyDown:
		return Event{Key: KeyDown, Mod: mod}, true
	case tcell.KeyHome:
		return Event{Key: KeyHome, Mod: mod}, true
	case tcell.KeyEnd:
		return Event{Key: KeyEnd, Mod: mod}, true
	case tcell.KeyEscape:
		return Event{Key: KeyEscape, Mod: mod}, true
	default:
		// Ctrl+letter arrives as a dedicated key code.
		if k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
			r := 'a' + rune(k-tcell.KeyCtrlA)
			return Event{Key: KeyRune, Rune: r, Mod: mod | ModCtrl}, true
		}
		return Event{}, false
	}
}
