// Package bus abstracts the serial transport and discrete control lines
// used to talk to the display controller: byte transfer, line control,
// and bounded busy-line polling. It carries no refresh semantics.
package bus

import (
	"fmt"
	"time"
)

// Line names a discrete control line.
type Line string

const (
	LineDC   Line = "dc"   // data/command select
	LineCS   Line = "cs"   // chip select, active low
	LineRST  Line = "rst"  // reset, active low
	LineBusy Line = "busy" // controller busy, input
)

// Level is a logic level on a control line.
type Level bool

const (
	High Level = true
	Low  Level = false
)

// Bus is the only abstraction touching physical I/O.
//
// WaitLine polls until the line reads level or the timeout elapses; a
// timeout is reported as matched=false, not as an error, so callers
// decide fatality. Transport failures surface as *TransportError and
// are never retried.
type Bus interface {
	// Write transfers payload bytes over the serial bus.
	Write(p []byte) error
	// SetLine drives an output line.
	SetLine(name Line, level Level) error
	// ReadLine samples an input line.
	ReadLine(name Line) (Level, error)
	// WaitLine polls name until it reads level, bounded by timeout.
	WaitLine(name Line, level Level, timeout time.Duration) (matched bool, err error)
	// Close releases line ownership and the bus handle. Idempotent.
	Close() error
}

// TransportError reports a bus or line failure. It is fatal to the
// operation in progress.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bus: %s failed", e.Op)
	}
	return fmt.Sprintf("bus: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
