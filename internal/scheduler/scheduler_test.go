package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"etyper/internal/bus"
	"etyper/internal/document"
	"etyper/internal/epd"
	"etyper/internal/glyph"
	"etyper/internal/input"
	"etyper/internal/mono"
	"etyper/internal/render"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeInput struct{ evs []input.Event }

func (f *fakeInput) Poll(time.Duration) (input.Event, bool, error) {
	if len(f.evs) == 0 {
		return input.Event{}, false, nil
	}
	ev := f.evs[0]
	f.evs = f.evs[1:]
	return ev, true, nil
}
func (f *fakeInput) Close() error { return nil }

type fakeSwitcher struct{ got *input.Layout }

func (f *fakeSwitcher) SetLayout(l *input.Layout) { f.got = l }

type fixture struct {
	s     *Scheduler
	mock  *bus.Mock
	clock *fakeClock
	store *document.Store
	sw    *fakeSwitcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := bus.NewMock()
	ctrl, err := epd.New(mock, epd.Opts{
		Width: 400, Height: 300,
		FullTimeout: time.Second, PartialTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	store, err := document.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	sw := &fakeSwitcher{}

	s, err := New(Opts{
		Controller:        ctrl,
		Renderer:          render.New(glyph.Builtin(), 400, 300, 8, 10),
		Store:             store,
		Input:             &fakeInput{},
		Layouts:           sw,
		Width:             400,
		Height:            300,
		FullInterval:      5 * time.Minute,
		AutosaveEvery:     10 * time.Second,
		CoverageThreshold: 0.6,
		Now:               clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.startup(); err != nil {
		t.Fatal(err)
	}
	return &fixture{s: s, mock: mock, clock: clock, store: store, sw: sw}
}

// refreshKind inspects the update-sequence frames (command 0x22) the
// mock recorded: 0xF7 selects a full refresh, 0xFF a partial one.
func refreshKind(f *fixture) (fulls, partials int) {
	for _, fr := range f.mock.Frames() {
		if fr.Cmd == 0x22 && len(fr.Data) == 1 {
			switch fr.Data[0] {
			case 0xF7:
				fulls++
			case 0xFF:
				partials++
			}
		}
	}
	return
}

func (f *fixture) tick() { f.s.tick(f.clock.Now()) }

func (f *fixture) press(ev input.Event) { f.s.handleEvent(ev) }

func runeEvent(r rune) input.Event { return input.Event{Key: input.KeyRune, Rune: r} }

func chord(r rune) input.Event {
	return input.Event{Key: input.KeyRune, Rune: r, Mod: input.ModCtrl}
}

func TestFirstTickForcesFullAndArmsPartial(t *testing.T) {
	f := newFixture(t)
	f.tick()

	fulls, partials := refreshKind(f)
	if fulls != 1 || partials != 0 {
		t.Fatalf("fulls=%d partials=%d, want one full", fulls, partials)
	}
	if st := f.s.ctrl.State(); st != epd.PartialReady {
		t.Fatalf("state = %v, want partial-ready after re-arm", st)
	}
}

func TestTypingCausesPartialRefresh(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	f.press(runeEvent('a'))
	f.tick()

	fulls, partials := refreshKind(f)
	if fulls != 0 || partials != 1 {
		t.Fatalf("fulls=%d partials=%d, want one partial", fulls, partials)
	}
}

func TestNoOpWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	f.tick()
	if n := len(f.mock.Frames()); n != 0 {
		t.Fatalf("%d frames on an idle tick, want 0", n)
	}
}

func TestGhostCleaningFullAfterInterval(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	f.clock.advance(6 * time.Minute)
	f.press(runeEvent('a'))
	f.tick()

	fulls, partials := refreshKind(f)
	if fulls != 1 || partials != 0 {
		t.Fatalf("fulls=%d partials=%d, want full after interval elapsed", fulls, partials)
	}
}

func TestLargeChangePrefersFull(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	// Invalidate most of the committed frame so the diff covers the
	// whole panel.
	f.s.committed.Fill(mono.Off)
	f.press(runeEvent('a'))
	f.tick()

	fulls, _ := refreshKind(f)
	if fulls != 1 {
		t.Fatalf("fulls=%d, want coverage-driven full refresh", fulls)
	}
}

func TestForcedRefreshChord(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	f.press(chord('r'))
	f.tick()
	fulls, _ := refreshKind(f)
	if fulls != 1 {
		t.Fatalf("fulls=%d, want one forced full", fulls)
	}
}

func TestMaintenanceRequestForcesFull(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	f.s.requestFullRefresh() // what the cron job does
	f.s.drainRequests()
	f.tick()

	fulls, _ := refreshKind(f)
	if fulls != 1 {
		t.Fatalf("fulls=%d, want maintenance full refresh", fulls)
	}
}

func TestFaultRecoveryIsOneResetInitFull(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.mock.BusyTimeouts = 1
	f.press(runeEvent('a'))
	f.tick()
	if st := f.s.ctrl.State(); st != epd.Faulted {
		t.Fatalf("state = %v, want faulted after busy timeout", st)
	}

	f.mock.Reset()
	f.tick() // recovery tick
	fulls, partials := refreshKind(f)
	if fulls != 1 || partials != 0 {
		t.Fatalf("fulls=%d partials=%d, want recovery full", fulls, partials)
	}
	if st := f.s.ctrl.State(); st != epd.PartialReady {
		t.Fatalf("state = %v after recovery", st)
	}

	// Partials resume afterwards.
	f.mock.Reset()
	f.press(runeEvent('b'))
	f.tick()
	if _, partials := refreshKind(f); partials != 1 {
		t.Fatal("partial refreshes did not resume after recovery")
	}
}

func TestSecondFaultSuspendsHardwareWrites(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.mock.BusyTimeouts = 10 // the recovery attempt times out too
	f.press(runeEvent('a'))
	f.tick() // faults
	f.tick() // recovery fails, suspends
	if !f.s.suspended {
		t.Fatal("not suspended after failed recovery")
	}

	// Editing and autosave continue without touching the hardware.
	f.mock.Reset()
	f.press(runeEvent('b'))
	f.clock.advance(time.Minute)
	f.tick()
	if n := len(f.mock.Frames()); n != 0 {
		t.Fatalf("%d frames while suspended, want 0", n)
	}
	data, err := os.ReadFile(f.s.doc.Path())
	if err != nil {
		t.Fatalf("autosave while suspended: %v", err)
	}
	if string(data) != "ab" {
		t.Fatalf("saved %q, want %q", data, "ab")
	}
}

func TestAutosaveAfterInterval(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.press(runeEvent('h'))
	f.press(runeEvent('i'))
	f.tick()
	if _, err := os.Stat(f.s.doc.Path()); !os.IsNotExist(err) {
		t.Fatal("saved before the autosave interval elapsed")
	}

	f.clock.advance(11 * time.Second)
	f.tick()
	data, err := os.ReadFile(f.s.doc.Path())
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("saved %q, want %q", data, "hi")
	}
	if f.s.doc.Dirty() {
		t.Error("document still dirty after autosave")
	}
}

func TestSaveFailureKeepsDirtyAndRetries(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	f := newFixture(t)
	f.tick()
	f.press(runeEvent('x'))

	// Make the docs dir unwritable so the save fails.
	dir := f.store.Dir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(11 * time.Second)
	f.tick()
	if !f.s.doc.Dirty() {
		t.Fatal("dirty cleared although save failed")
	}

	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(11 * time.Second)
	f.tick()
	if f.s.doc.Dirty() {
		t.Fatal("retry did not save")
	}
}

func TestSleepAndWake(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.press(runeEvent('z'))
	f.press(chord('q'))
	if st := f.s.ctrl.State(); st != epd.Sleeping {
		t.Fatalf("state = %v, want sleeping", st)
	}
	if f.s.doc.Dirty() {
		t.Error("sleep did not save first")
	}

	f.mock.Reset()
	f.tick()
	if n := len(f.mock.Frames()); n != 0 {
		t.Fatalf("%d frames while sleeping, want 0", n)
	}

	// Everything but the wake chord is dropped while asleep.
	before := f.s.doc.Len()
	f.press(runeEvent('w'))
	if f.s.doc.Len() != before {
		t.Error("key press while asleep was inserted into the document")
	}
	if !f.s.sleeping {
		t.Fatal("a plain key woke the machine")
	}
	f.press(chord('q'))
	if f.s.sleeping {
		t.Fatal("wake chord ignored")
	}
	f.tick()
	fulls, _ := refreshKind(f)
	if fulls != 1 {
		t.Fatalf("fulls=%d, want forced full on wake", fulls)
	}
	if st := f.s.ctrl.State(); st != epd.PartialReady {
		t.Fatalf("state = %v after wake", st)
	}
}

func TestSleepWhileFaultedSkipsDeepSleep(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.mock.BusyTimeouts = 1
	f.press(runeEvent('a'))
	f.tick()
	if st := f.s.ctrl.State(); st != epd.Faulted {
		t.Fatalf("state = %v, want faulted after busy timeout", st)
	}

	// Sleeping a faulted panel saves and powers down without the
	// deep-sleep command, which is only legal from a ready state.
	f.mock.Reset()
	f.press(chord('q'))
	if !f.s.sleeping {
		t.Fatal("sleep chord ignored on a faulted panel")
	}
	if f.s.quit {
		t.Fatal("sleeping a faulted panel quit the loop")
	}
	if st := f.s.ctrl.State(); st != epd.Faulted {
		t.Fatalf("state = %v, want still faulted", st)
	}
	for _, fr := range f.mock.Frames() {
		if fr.Cmd == 0x10 {
			t.Fatal("deep-sleep command sent to a faulted panel")
		}
	}

	// Waking runs the usual reset+init+full recovery.
	f.press(chord('q'))
	f.tick()
	if st := f.s.ctrl.State(); st != epd.PartialReady {
		t.Fatalf("state = %v after wake, want recovered", st)
	}
}

func TestIdleTickSkipsRasterization(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.mock.Reset()

	// Scribble on the live frame; an idle tick must not re-render it.
	f.s.current.Fill(mono.Off)
	f.tick()
	if f.s.current.BitAt(0, 0) != mono.Off {
		t.Fatal("idle tick re-rendered the frame")
	}
	if n := len(f.mock.Frames()); n != 0 {
		t.Fatalf("%d frames on an idle tick, want 0", n)
	}

	// A key press makes the next tick render and refresh again.
	f.press(runeEvent('a'))
	f.tick()
	if f.s.current.BitAt(0, 0) != mono.On {
		t.Fatal("tick after an edit did not re-render the frame")
	}
	if _, partials := refreshKind(f); partials != 1 {
		t.Fatal("tick after an edit did not refresh")
	}
}

func TestNewDocumentChord(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.press(runeEvent('a'))
	old := f.s.doc.Filename()
	f.clock.advance(time.Second)
	f.press(chord('n'))

	if f.s.doc.Filename() == old {
		t.Fatal("new document has the old name")
	}
	data, err := os.ReadFile(filepath.Join(f.store.Dir(), old))
	if err != nil || string(data) != "a" {
		t.Fatalf("previous document not saved: %v %q", err, data)
	}
	if f.s.doc.Len() != 0 {
		t.Error("new document not empty")
	}
}

func TestSwitchDocumentStopsAtEnds(t *testing.T) {
	f := newFixture(t)
	f.tick()
	f.press(runeEvent('1'))
	f.clock.advance(time.Second)
	f.press(chord('n'))
	f.press(runeEvent('2'))
	f.clock.advance(time.Second)
	f.press(chord('n'))
	f.press(runeEvent('3'))

	third := f.s.doc.Filename()
	f.press(input.Event{Key: input.KeyRight, Mod: input.ModCtrl})
	if f.s.doc.Filename() != third {
		t.Fatal("Ctrl+Right moved past the last document")
	}

	f.press(input.Event{Key: input.KeyLeft, Mod: input.ModCtrl})
	if f.s.doc.String() != "2" {
		t.Fatalf("opened %q, want the second document", f.s.doc.String())
	}
	f.press(input.Event{Key: input.KeyLeft, Mod: input.ModCtrl})
	if f.s.doc.String() != "1" {
		t.Fatalf("opened %q, want the first document", f.s.doc.String())
	}
	first := f.s.doc.Filename()
	f.press(input.Event{Key: input.KeyLeft, Mod: input.ModCtrl})
	if f.s.doc.Filename() != first {
		t.Fatal("Ctrl+Left moved past the first document")
	}
}

func TestLayoutPicker(t *testing.T) {
	f := newFixture(t)
	f.tick()

	f.press(chord('k'))
	if f.s.mode != modePicker {
		t.Fatal("picker did not open")
	}
	screen := f.s.buildScreen()
	joined := strings.Join(screen.Lines, "\n")
	if !strings.Contains(joined, "> us") {
		t.Fatalf("picker screen missing selection marker:\n%s", joined)
	}

	f.press(input.Event{Key: input.KeyDown})
	f.press(input.Event{Key: input.KeyEnter})
	if f.s.mode != modeEditing {
		t.Fatal("picker did not close on Enter")
	}
	if got := f.store.KeyboardLayout(); got != "uk" {
		t.Fatalf("persisted layout = %q, want uk", got)
	}
	if f.sw.got == nil || f.sw.got.Name() != "uk" {
		t.Fatal("input source layout not switched")
	}

	// Escape cancels without changing anything.
	f.press(chord('k'))
	f.press(input.Event{Key: input.KeyDown})
	f.press(input.Event{Key: input.KeyEscape})
	if got := f.store.KeyboardLayout(); got != "uk" {
		t.Fatalf("cancel changed layout to %q", got)
	}
}

func TestQuitChord(t *testing.T) {
	f := newFixture(t)
	f.press(chord('c'))
	if !f.s.quit {
		t.Fatal("Ctrl+C did not quit")
	}
}

func TestScrollKeepsCursorVisible(t *testing.T) {
	f := newFixture(t)
	f.tick()

	// Fill well past one page of rows.
	rows := f.s.renderer.Rows()
	for i := 0; i < rows+5; i++ {
		f.press(runeEvent('x'))
		f.press(input.Event{Key: input.KeyEnter})
	}
	screen := f.s.buildScreen()
	if screen.Cursor.Y < 0 || screen.Cursor.Y >= rows {
		t.Fatalf("cursor row %d off screen (rows=%d)", screen.Cursor.Y, rows)
	}
	if f.s.scroll == 0 {
		t.Fatal("viewport did not scroll")
	}

	// Jumping back to the top scrolls up again.
	for i := 0; i < (rows+5)*2; i++ {
		f.press(input.Event{Key: input.KeyUp})
	}
	screen = f.s.buildScreen()
	if f.s.scroll != 0 || screen.Cursor.Y != 0 {
		t.Fatalf("scroll=%d cursorY=%d after moving to top", f.s.scroll, screen.Cursor.Y)
	}
}
