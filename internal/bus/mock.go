package bus

import (
	"time"
)

// Frame is one command/data exchange reconstructed from mock traffic:
// a command byte written with DC low followed by payload bytes written
// with DC high.
type Frame struct {
	Cmd  byte
	Data []byte
}

// Mock is a deterministic in-memory Bus. It records all traffic, never
// sleeps, and can be scripted to time out on busy waits or fail writes,
// which is enough to exercise the controller state machine and the
// scheduler without hardware. It also backs simulated (-sim) runs.
type Mock struct {
	lines map[Line]Level

	frames  []Frame
	waits   int
	writes  int
	closed  bool
	started bool // a frame is open (command byte seen)

	// BusyTimeouts makes the next N busy waits report a timeout.
	BusyTimeouts int
	// WriteErr, when set, is returned by every Write.
	WriteErr error
}

// NewMock returns a mock bus with all lines idle high and the busy
// line released (low = idle for the SSD1683).
func NewMock() *Mock {
	return &Mock{
		lines: map[Line]Level{
			LineDC:   High,
			LineCS:   High,
			LineRST:  High,
			LineBusy: Low,
		},
	}
}

func (m *Mock) Write(p []byte) error {
	if m.WriteErr != nil {
		return transportErr("spi write", m.WriteErr)
	}
	m.writes++

	if m.lines[LineDC] == Low {
		// Command phase. Each byte starts a new frame; the controller
		// only ever writes single command bytes.
		for _, b := range p {
			m.frames = append(m.frames, Frame{Cmd: b})
		}
		m.started = len(p) > 0
		return nil
	}
	// Data phase appends to the open frame.
	if m.started && len(m.frames) > 0 {
		last := &m.frames[len(m.frames)-1]
		last.Data = append(last.Data, p...)
	}
	return nil
}

func (m *Mock) SetLine(name Line, level Level) error {
	if name == LineBusy {
		return transportErr("set busy", errNotOutput)
	}
	m.lines[name] = level
	return nil
}

func (m *Mock) ReadLine(name Line) (Level, error) {
	return m.lines[name], nil
}

func (m *Mock) WaitLine(name Line, level Level, timeout time.Duration) (bool, error) {
	m.waits++
	if name == LineBusy && m.BusyTimeouts > 0 {
		m.BusyTimeouts--
		return false, nil
	}
	// Deterministic: the line immediately reads the requested level.
	if name == LineBusy {
		m.lines[LineBusy] = level
	}
	return m.lines[name] == level, nil
}

func (m *Mock) Close() error {
	m.closed = true
	return nil
}

// Frames returns every command/data exchange seen so far.
func (m *Mock) Frames() []Frame { return m.frames }

// LastFrame returns the most recent exchange, or a zero Frame.
func (m *Mock) LastFrame() Frame {
	if len(m.frames) == 0 {
		return Frame{}
	}
	return m.frames[len(m.frames)-1]
}

// Reset clears recorded traffic but keeps line state and scripting.
func (m *Mock) Reset() {
	m.frames = nil
	m.waits = 0
	m.writes = 0
	m.started = false
}

// Waits reports how many bounded polls were issued.
func (m *Mock) Waits() int { return m.waits }

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool { return m.closed }

var errNotOutput = &notOutputError{}

type notOutputError struct{}

func (*notOutputError) Error() string { return "not an output line" }
