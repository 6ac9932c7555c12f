package input

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
)

// ErrClosed is returned by Poll after the source has been closed.
var ErrClosed = errors.New("input: source closed")

// Terminal reads key events from a tcell screen. The screen is used
// purely as an input device; all drawing happens on the e-paper panel.
type Terminal struct {
	screen tcell.Screen
	layout atomic.Pointer[Layout]

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
}

// NewTerminal initializes the terminal and starts the read loop. The
// layout remaps plain runes before they reach the editor.
func NewTerminal(layout *Layout) (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("input: create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("input: init screen: %w", err)
	}
	screen.HideCursor()
	screen.Clear()
	screen.Show()

	t := &Terminal{
		screen: screen,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	t.layout.Store(layout)
	go t.readLoop()
	return t, nil
}

// SetLayout swaps the active keyboard layout. Safe to call while the
// read loop is running.
func (t *Terminal) SetLayout(layout *Layout) { t.layout.Store(layout) }

func (t *Terminal) readLoop() {
	defer close(t.events)
	for {
		raw := t.screen.PollEvent()
		if raw == nil {
			// Screen finalized.
			return
		}
		key, isKey := raw.(*tcell.EventKey)
		if !isKey {
			continue
		}
		ev, ok := translate(key, t.layout.Load())
		if !ok {
			continue
		}
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

// Poll returns the next event, waiting at most timeout.
func (t *Terminal) Poll(timeout time.Duration) (Event, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, open := <-t.events:
		if !open {
			return Event{}, false, ErrClosed
		}
		return ev, true, nil
	case <-timer.C:
		return Event{}, false, nil
	}
}

// Close restores the terminal. Idempotent.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.screen.Fini()
	})
	return nil
}
