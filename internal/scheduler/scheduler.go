// Package scheduler runs the editor's single cooperative loop. It owns
// the document, its layout, the frame buffers and the display
// controller; everything else (cron, the transfer server) only ever
// enqueues requests that the loop consumes at iteration boundaries.
package scheduler

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/robfig/cron/v3"

	"etyper/internal/bus"
	"etyper/internal/document"
	"etyper/internal/epd"
	"etyper/internal/input"
	"etyper/internal/log"
	"etyper/internal/mono"
	"etyper/internal/render"
	"etyper/internal/transfer"
)

// LayoutSwitcher lets the picker swap the active keyboard layout on
// the input source.
type LayoutSwitcher interface {
	SetLayout(*input.Layout)
}

// Opts wires the scheduler's collaborators and tuning.
type Opts struct {
	Controller *epd.Controller
	Renderer   *render.Renderer
	Store      *document.Store
	Input      input.Source
	Transfer   transfer.Service // optional
	Layouts    LayoutSwitcher   // optional

	Width, Height int

	FullInterval      time.Duration
	AutosaveEvery     time.Duration
	CoverageThreshold float64
	Maintenance       string // cron expression, empty disables

	PollTimeout time.Duration // bounded key-event wait per iteration
	Now         func() time.Time
}

type mode int

const (
	modeEditing mode = iota
	modePicker
)

// Scheduler is the control loop state. Not safe for concurrent use;
// Run owns it.
type Scheduler struct {
	ctrl     *epd.Controller
	renderer *render.Renderer
	store    *document.Store
	input    input.Source
	transfer transfer.Service
	switcher LayoutSwitcher

	doc    *document.Document
	scroll int

	current   *mono.Buffer
	committed *mono.Buffer

	fullInterval      time.Duration
	autosaveEvery     time.Duration
	coverageThreshold float64
	pollTimeout       time.Duration
	now               func() time.Time

	lastFull     time.Time
	lastSave     time.Time
	forceFull    bool
	needsRedraw  bool
	partialArmed bool

	sleeping      bool
	recoveryTried bool
	suspended     bool

	mode      mode
	pickerIdx int

	requests chan struct{}
	cronSpec string
	cron     *cron.Cron

	quit bool
}

// New validates opts and builds the scheduler. The display is not
// touched until Run.
func New(o Opts) (*Scheduler, error) {
	if o.Controller == nil || o.Renderer == nil || o.Store == nil || o.Input == nil {
		return nil, errors.New("scheduler: controller, renderer, store and input are required")
	}
	if o.FullInterval <= 0 {
		o.FullInterval = 5 * time.Minute
	}
	if o.AutosaveEvery <= 0 {
		o.AutosaveEvery = 10 * time.Second
	}
	if o.CoverageThreshold <= 0 || o.CoverageThreshold > 1 {
		o.CoverageThreshold = 0.6
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 50 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Scheduler{
		ctrl:              o.Controller,
		renderer:          o.Renderer,
		store:             o.Store,
		input:             o.Input,
		transfer:          o.Transfer,
		switcher:          o.Layouts,
		current:           mono.NewBuffer(o.Width, o.Height),
		committed:         mono.NewBuffer(o.Width, o.Height),
		fullInterval:      o.FullInterval,
		autosaveEvery:     o.AutosaveEvery,
		coverageThreshold: o.CoverageThreshold,
		pollTimeout:       o.PollTimeout,
		now:               o.Now,
		requests:          make(chan struct{}, 1),
		cronSpec:          o.Maintenance,
	}, nil
}

// Run drives the loop until ctx is cancelled or the quit chord is
// pressed. It saves and puts the panel to sleep on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.startup(); err != nil {
		return err
	}
	defer s.shutdown()

	for !s.quit && ctx.Err() == nil {
		s.drainInput()
		s.drainRequests()
		s.tick(s.now())
	}
	return ctx.Err()
}

func (s *Scheduler) startup() error {
	doc, ok, err := s.store.OpenLast()
	if err != nil {
		return err
	}
	if !ok {
		doc = s.store.Create(s.now())
		log.Info("starting fresh document", "name", doc.Filename())
	} else {
		log.Info("reopened document", "name", doc.Filename(), "chars", doc.Len())
	}
	s.doc = doc
	s.forceFull = true
	s.needsRedraw = true
	s.lastSave = s.now()

	if s.cronSpec != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cronSpec, s.requestFullRefresh); err != nil {
			return err
		}
		c.Start()
		s.cron = c
		log.Info("maintenance refresh scheduled", "spec", s.cronSpec)
	}
	return nil
}

func (s *Scheduler) shutdown() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.transfer != nil && s.transfer.IsActive() {
		if err := s.transfer.Stop(); err != nil {
			log.Error("stop transfer server", err)
		}
	}
	if s.doc.Dirty() {
		if err := s.store.Save(s.doc, s.now()); err != nil {
			log.Error("final save failed", err, "name", s.doc.Filename())
		}
	}
	if !s.suspended && !s.sleeping {
		st := s.ctrl.State()
		if st == epd.FullReady || st == epd.PartialReady {
			if err := s.ctrl.Sleep(); err != nil {
				log.Error("display sleep on shutdown", err)
			}
		}
	}
}

// requestFullRefresh is called from the cron goroutine; it only drops
// a token the loop picks up.
func (s *Scheduler) requestFullRefresh() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainRequests() {
	select {
	case <-s.requests:
		s.forceFull = true
	default:
	}
}

// drainInput waits briefly for the first event, then empties the queue
// without blocking so bursts of typing collapse into one frame.
func (s *Scheduler) drainInput() {
	timeout := s.pollTimeout
	for i := 0; i < 256; i++ {
		ev, ok, err := s.input.Poll(timeout)
		if err != nil {
			log.Error("input source failed", err)
			s.quit = true
			return
		}
		if !ok {
			return
		}
		s.handleEvent(ev)
		if s.quit {
			return
		}
		timeout = 0
	}
}

// tick performs autosave and at most one display operation. Nothing is
// rasterized on idle iterations: the frame is rebuilt only after input,
// a refresh request or a status change, or to run fault recovery.
func (s *Scheduler) tick(now time.Time) {
	s.autosave(now)
	if s.sleeping {
		return
	}
	if !s.needsRedraw && !s.forceFull && s.ctrl.State() != epd.Faulted {
		return
	}

	s.renderer.Draw(s.current, s.buildScreen())
	s.needsRedraw = false

	if s.suspended {
		return
	}
	if s.ctrl.State() == epd.Faulted {
		s.recoverDisplay(now)
		return
	}

	forced := s.forceFull
	s.forceFull = false

	rect, changed := mono.Diff(s.committed, s.current)
	switch {
	case forced:
		s.doFull(now)
	case !changed:
		// Nothing to do.
	case now.Sub(s.lastFull) >= s.fullInterval:
		log.Debug("ghost-cleaning full refresh", "since_full", now.Sub(s.lastFull))
		s.doFull(now)
	case s.current.Coverage(rect) > s.coverageThreshold:
		log.Debug("large change, full refresh", "coverage", s.current.Coverage(rect))
		s.doFull(now)
	default:
		s.doPartial(now)
	}
}

func (s *Scheduler) autosave(now time.Time) {
	if !s.doc.Dirty() || now.Sub(s.lastSave) < s.autosaveEvery {
		return
	}
	s.lastSave = now
	if err := s.store.Save(s.doc, now); err != nil {
		// Dirty stays set; the next autosave tick retries.
		log.Error("autosave failed", err, "name", s.doc.Filename())
		return
	}
	// The dirty marker clears on the next status-bar render.
	s.needsRedraw = true
	log.Debug("autosaved", "name", s.doc.Filename(), "chars", s.doc.Len())
}

// recoverDisplay runs the single permitted reset+init+full cycle after
// a refresh timeout. A second failure parks the display: editing and
// autosave continue, hardware writes stop.
func (s *Scheduler) recoverDisplay(now time.Time) {
	if s.recoveryTried {
		s.suspend("second display fault")
		return
	}
	s.recoveryTried = true
	log.Info("display faulted, attempting recovery")
	if err := s.ctrl.Reset(); err != nil {
		s.suspend("reset failed")
		return
	}
	if err := s.ctrl.Init(); err != nil {
		s.suspend("init failed")
		return
	}
	s.doFull(now)
	if !s.suspended && s.ctrl.State() != epd.Faulted {
		s.recoveryTried = false
		log.Info("display recovered")
	}
}

func (s *Scheduler) suspend(reason string) {
	s.suspended = true
	log.Error("display writes suspended", nil, "reason", reason)
}

// doFull pushes the whole frame with a full refresh and re-arms
// partial mode.
func (s *Scheduler) doFull(now time.Time) {
	if st := s.ctrl.State(); st != epd.FullReady && st != epd.PartialReady {
		if err := s.ctrl.Init(); err != nil {
			s.displayError("init", err)
			return
		}
	}
	if err := s.ctrl.Display(s.current.Pix); err != nil {
		s.displayError("full refresh", err)
		return
	}
	s.lastFull = now
	s.committed.CopyFrom(s.current)
	// Partial mode must be re-armed after every full refresh.
	if err := s.ctrl.InitPartial(); err != nil {
		s.displayError("re-arm partial", err)
		return
	}
	s.partialArmed = true
}

func (s *Scheduler) doPartial(now time.Time) {
	if !s.partialArmed || s.ctrl.State() != epd.PartialReady {
		s.doFull(now)
		return
	}
	if err := s.ctrl.DisplayPartial(s.current.Pix); err != nil {
		s.displayError("partial refresh", err)
		return
	}
	s.committed.CopyFrom(s.current)
}

// displayError sorts a failed display operation: timeouts go through
// the one-shot recovery on the next tick, transport loss suspends
// hardware writes, and a state-machine contract violation is fatal.
func (s *Scheduler) displayError(op string, err error) {
	var timeout *epd.RefreshTimeoutError
	if errors.As(err, &timeout) {
		log.Error(op+" timed out", err)
		return
	}
	var invalid *epd.InvalidStateError
	if errors.As(err, &invalid) {
		// Scheduler bug: the loop issued an operation the state
		// machine forbids. Quit rather than limp on.
		log.Error(op+" contract violation", err)
		s.quit = true
		return
	}
	var transport *bus.TransportError
	if errors.As(err, &transport) {
		log.Error(op+" transport failure", err)
		s.suspend("transport failure")
		return
	}
	log.Error(op+" failed", err)
	s.suspend(op + " failed")
}

// buildScreen assembles the frame content for the current mode.
func (s *Scheduler) buildScreen() render.Screen {
	if s.mode == modePicker {
		return s.pickerScreen()
	}

	layout := s.layout()
	row, col := layout.ToVisual(s.doc.Cursor())
	s.ensureVisible(row)

	rows := s.renderer.Rows()
	lines := make([]string, 0, rows)
	text := s.doc.Runes()
	for i := s.scroll; i < layout.LineCount() && i < s.scroll+rows; i++ {
		ln := layout.LineAt(i)
		lines = append(lines, string(text[ln.Start:ln.End]))
	}

	return render.Screen{
		Lines:  lines,
		Cursor: image.Pt(col, row-s.scroll),
		Status: s.doc.Status(layout),
	}
}

func (s *Scheduler) pickerScreen() render.Screen {
	names := input.Layouts()
	lines := []string{"Keyboard layout", ""}
	for i, n := range names {
		marker := "  "
		if i == s.pickerIdx {
			marker = "> "
		}
		lines = append(lines, marker+n)
	}
	return render.Screen{
		Lines:  lines,
		Cursor: image.Pt(-1, -1),
		Status: "Enter: select   Esc: cancel",
	}
}

// layout wraps the document at the renderer's column count.
func (s *Scheduler) layout() *document.Layout {
	return document.Wrap(s.doc.Runes(), s.renderer.Columns())
}

// ensureVisible scrolls so the cursor row stays on screen.
func (s *Scheduler) ensureVisible(row int) {
	rows := s.renderer.Rows()
	if row < s.scroll {
		s.scroll = row
	}
	if row >= s.scroll+rows {
		s.scroll = row - rows + 1
	}
}
