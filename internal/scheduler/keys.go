package scheduler

import (
	"etyper/internal/epd"
	"etyper/internal/input"
	"etyper/internal/log"
)

// handleEvent dispatches one key press. Edits only mutate the document;
// the following tick turns the new state into a frame.
func (s *Scheduler) handleEvent(ev input.Event) {
	s.needsRedraw = true
	if s.sleeping {
		// Only the wake chord acts while asleep; everything else is
		// dropped so pocket presses cannot edit the document.
		if ev.Ctrl() && ev.Key == input.KeyRune && ev.Rune == 'q' {
			s.wake()
		}
		return
	}
	if s.mode == modePicker {
		s.handlePickerEvent(ev)
		return
	}

	if ev.Ctrl() {
		s.handleChord(ev)
		return
	}

	switch ev.Key {
	case input.KeyRune:
		s.doc.InsertRune(ev.Rune)
	case input.KeyEnter:
		s.doc.InsertNewline()
	case input.KeyBackspace:
		s.doc.DeleteBefore()
	case input.KeyDelete:
		s.doc.DeleteAfter()
	case input.KeyLeft:
		s.doc.MoveLeft()
	case input.KeyRight:
		s.doc.MoveRight()
	case input.KeyUp:
		s.doc.MoveUp(s.layout())
	case input.KeyDown:
		s.doc.MoveDown(s.layout())
	case input.KeyHome:
		s.doc.MoveLineStart(s.layout())
	case input.KeyEnd:
		s.doc.MoveLineEnd(s.layout())
	}
}

func (s *Scheduler) handleChord(ev input.Event) {
	switch ev.Key {
	case input.KeyLeft:
		s.switchDocument(-1)
		return
	case input.KeyRight:
		s.switchDocument(+1)
		return
	case input.KeyRune:
	default:
		return
	}

	switch ev.Rune {
	case 'q':
		s.sleep()
	case 's':
		s.saveNow()
	case 'n':
		s.newDocument()
	case 'r':
		s.forceFull = true
	case 'f':
		s.toggleTransfer()
	case 'k':
		s.openPicker()
	case 'c':
		s.quit = true
	}
}

func (s *Scheduler) handlePickerEvent(ev input.Event) {
	names := input.Layouts()
	switch {
	case ev.Key == input.KeyUp:
		if s.pickerIdx > 0 {
			s.pickerIdx--
		}
	case ev.Key == input.KeyDown:
		if s.pickerIdx < len(names)-1 {
			s.pickerIdx++
		}
	case ev.Key == input.KeyEnter:
		s.selectLayout(names[s.pickerIdx])
		s.mode = modeEditing
	case ev.Key == input.KeyEscape,
		ev.Ctrl() && ev.Key == input.KeyRune && ev.Rune == 'k':
		s.mode = modeEditing
	}
}

func (s *Scheduler) openPicker() {
	s.pickerIdx = 0
	current := s.store.KeyboardLayout()
	for i, n := range input.Layouts() {
		if n == current {
			s.pickerIdx = i
		}
	}
	s.mode = modePicker
}

func (s *Scheduler) selectLayout(name string) {
	if err := s.store.SetKeyboardLayout(name); err != nil {
		log.Error("persist keyboard layout", err, "layout", name)
	}
	if s.switcher != nil {
		s.switcher.SetLayout(input.LayoutByName(name))
	}
	log.Info("keyboard layout selected", "layout", name)
}

// sleep saves, blanks nothing (e-paper keeps its image) and powers the
// controller down. The deep-sleep command is only legal from a ready
// state; a faulted or uninitialized panel skips it and relies on the
// wake path's reset+init+full to bring the hardware back.
func (s *Scheduler) sleep() {
	s.saveNow()
	if st := s.ctrl.State(); !s.suspended && (st == epd.FullReady || st == epd.PartialReady) {
		if err := s.ctrl.Sleep(); err != nil {
			s.displayError("sleep", err)
		}
	}
	s.sleeping = true
	log.Info("sleeping")
}

// wake brings the controller back with a hard reset and forces a full
// refresh so the first frame is clean.
func (s *Scheduler) wake() {
	s.sleeping = false
	s.forceFull = true
	log.Info("waking")
}

func (s *Scheduler) saveNow() {
	if !s.doc.Dirty() {
		return
	}
	s.lastSave = s.now()
	if err := s.store.Save(s.doc, s.lastSave); err != nil {
		log.Error("save failed", err, "name", s.doc.Filename())
		return
	}
	log.Info("saved", "name", s.doc.Filename(), "chars", s.doc.Len())
}

func (s *Scheduler) newDocument() {
	s.saveNow()
	s.doc = s.store.Create(s.now())
	s.scroll = 0
	s.forceFull = true
	log.Info("new document", "name", s.doc.Filename())
}

// switchDocument saves the current document and opens its neighbor in
// the docs directory. At the first or last document the chord is a
// no-op.
func (s *Scheduler) switchDocument(delta int) {
	s.saveNow()
	name, ok := s.store.Neighbor(s.doc.Filename(), delta)
	if !ok {
		return
	}
	doc, err := s.store.Open(name)
	if err != nil {
		log.Error("open document", err, "name", name)
		return
	}
	s.doc = doc
	s.scroll = 0
	s.forceFull = true
	log.Info("switched document", "name", name, "chars", doc.Len())
}

func (s *Scheduler) toggleTransfer() {
	if s.transfer == nil {
		return
	}
	if s.transfer.IsActive() {
		if err := s.transfer.Stop(); err != nil {
			log.Error("stop transfer server", err)
		}
		return
	}
	if err := s.transfer.Start(); err != nil {
		log.Error("start transfer server", err)
	}
}
