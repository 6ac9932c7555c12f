// Package epd drives the SSD1683 e-paper controller (WeAct Studio 4.2",
// 400x300, black/white) over a command/data serial bus.
//
// The controller is modelled as an explicit state machine; the state is
// the sole source of truth for which operations are legal. Only one
// refresh may be in flight: callers must not issue another operation
// until the busy poll of the previous one has returned.
package epd

import (
	"fmt"
	"sync"
	"time"

	"etyper/internal/bus"
)

// State is the display controller state.
type State int

const (
	Uninitialized State = iota
	FullReady
	PartialReady
	Sleeping
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case FullReady:
		return "full-ready"
	case PartialReady:
		return "partial-ready"
	case Sleeping:
		return "sleeping"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SSD1683 command set (subset used by this driver).
const (
	cmdDeepSleep     = 0x10
	cmdDataEntry     = 0x11
	cmdSWReset       = 0x12
	cmdActivate      = 0x20
	cmdUpdateSeq     = 0x22
	cmdWriteRAM      = 0x24 // "new" plane
	cmdWriteRAMOld   = 0x26 // "old" plane, used for partial diffs
	cmdUpdateControl = 0x21
	cmdBorder        = 0x3C
	cmdRAMXRange     = 0x44
	cmdRAMYRange     = 0x45
	cmdRAMXCursor    = 0x4E
	cmdRAMYCursor    = 0x4F
)

// Update-sequence selectors for cmdUpdateSeq.
const (
	seqFull    = 0xF7
	seqPartial = 0xFF
)

const (
	resetPulse    = 50 * time.Millisecond
	swResetSettle = 100 * time.Millisecond
	resetTimeout  = 2 * time.Second
)

// RefreshTimeoutError reports a busy line that never released within
// its bound. The controller transitions to Faulted.
type RefreshTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *RefreshTimeoutError) Error() string {
	return fmt.Sprintf("epd: %s: busy line not released within %v", e.Op, e.Timeout)
}

// InvalidStateError reports an operation attempted while the display
// state forbids it. This is a programming-contract violation in the
// caller and is treated as fatal.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("epd: %s not legal in state %s", e.Op, e.State)
}

// Opts configures the controller geometry and busy-poll bounds.
type Opts struct {
	Width, Height  int
	FullTimeout    time.Duration // bound for full-refresh busy polls
	PartialTimeout time.Duration // bound for partial-refresh busy polls
}

// Controller owns a Bus and implements the SSD1683 command protocol.
type Controller struct {
	bus bus.Bus

	width  int
	height int
	bufLen int

	fullTimeout    time.Duration
	partialTimeout time.Duration

	state State

	closeOnce sync.Once
	closeErr  error
}

// New wraps b. The buffer length is (width/8)*height and is invariant
// for the controller's lifetime.
func New(b bus.Bus, o Opts) (*Controller, error) {
	if o.Width <= 0 || o.Width%8 != 0 {
		return nil, fmt.Errorf("epd: width %d must be a positive multiple of 8", o.Width)
	}
	if o.Height <= 0 {
		return nil, fmt.Errorf("epd: height %d must be positive", o.Height)
	}
	if o.FullTimeout <= 0 {
		o.FullTimeout = 15 * time.Second
	}
	if o.PartialTimeout <= 0 {
		o.PartialTimeout = 2 * time.Second
	}
	return &Controller{
		bus:            b,
		width:          o.Width,
		height:         o.Height,
		bufLen:         o.Width / 8 * o.Height,
		fullTimeout:    o.FullTimeout,
		partialTimeout: o.PartialTimeout,
		state:          Uninitialized,
	}, nil
}

// State returns the current display state.
func (c *Controller) State() State { return c.state }

// BufferLen returns the required buffer length in bytes.
func (c *Controller) BufferLen() int { return c.bufLen }

// Reset pulses the reset line. Always legal; on success the controller
// is Uninitialized. The settle busy-wait result is deliberately
// ignored: reset fails only on a transport error.
func (c *Controller) Reset() error {
	if err := c.bus.SetLine(bus.LineRST, bus.Low); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	if err := c.bus.SetLine(bus.LineRST, bus.High); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	if _, err := c.bus.WaitLine(bus.LineBusy, bus.Low, resetTimeout); err != nil {
		return err
	}
	c.state = Uninitialized
	return nil
}

// Init runs the full-refresh initialization sequence. It is legal from
// every state because it begins with the hard reset pulse.
func (c *Controller) Init() error {
	if err := c.Reset(); err != nil {
		return err
	}
	if err := c.sendCommand(cmdSWReset); err != nil {
		return err
	}
	time.Sleep(swResetSettle)
	if err := c.waitIdle("init", c.fullTimeout); err != nil {
		return err
	}

	if err := c.send(cmdUpdateControl, 0x40, 0x00); err != nil {
		return err
	}
	if err := c.send(cmdBorder, 0x05); err != nil {
		return err
	}
	// Data entry mode: X increment, Y increment.
	if err := c.send(cmdDataEntry, 0x03); err != nil {
		return err
	}
	if err := c.setWindow(); err != nil {
		return err
	}
	if err := c.setCursor(); err != nil {
		return err
	}
	if err := c.waitIdle("init", c.fullTimeout); err != nil {
		return err
	}
	c.state = FullReady
	return nil
}

// InitPartial re-arms partial-refresh mode. Both RAM planes must hold
// the current image (Init + Display) before the first partial refresh.
func (c *Controller) InitPartial() error {
	if c.state != FullReady && c.state != PartialReady {
		return &InvalidStateError{Op: "init_partial", State: c.state}
	}
	if err := c.Init(); err != nil {
		return err
	}
	if err := c.send(cmdBorder, 0x80); err != nil {
		return err
	}
	if err := c.send(cmdUpdateControl, 0x00, 0x00); err != nil {
		return err
	}
	c.state = PartialReady
	return nil
}

// Display writes buffer to both RAM planes and runs a full refresh.
// State is preserved on success.
func (c *Controller) Display(buffer []byte) error {
	if c.state != FullReady && c.state != PartialReady {
		return &InvalidStateError{Op: "display", State: c.state}
	}
	if len(buffer) != c.bufLen {
		return fmt.Errorf("epd: buffer length %d, want %d", len(buffer), c.bufLen)
	}

	if err := c.sendBulk(cmdWriteRAM, buffer); err != nil {
		return err
	}
	if err := c.sendBulk(cmdWriteRAMOld, buffer); err != nil {
		return err
	}
	if err := c.send(cmdUpdateSeq, seqFull); err != nil {
		return err
	}
	if err := c.sendCommand(cmdActivate); err != nil {
		return err
	}
	return c.waitIdle("display", c.fullTimeout)
}

// DisplayPartial writes buffer to the new RAM plane and runs a partial
// refresh, then syncs the old plane so the next partial diffs against
// this frame. Requires PartialReady.
func (c *Controller) DisplayPartial(buffer []byte) error {
	if c.state != PartialReady {
		return &InvalidStateError{Op: "display_partial", State: c.state}
	}
	if len(buffer) != c.bufLen {
		return fmt.Errorf("epd: buffer length %d, want %d", len(buffer), c.bufLen)
	}

	if err := c.send(cmdBorder, 0x80); err != nil {
		return err
	}
	if err := c.send(cmdUpdateControl, 0x00, 0x00); err != nil {
		return err
	}
	if err := c.setWindow(); err != nil {
		return err
	}
	if err := c.setCursor(); err != nil {
		return err
	}
	if err := c.sendBulk(cmdWriteRAM, buffer); err != nil {
		return err
	}
	if err := c.send(cmdUpdateSeq, seqPartial); err != nil {
		return err
	}
	if err := c.sendCommand(cmdActivate); err != nil {
		return err
	}
	if err := c.waitIdle("display_partial", c.partialTimeout); err != nil {
		return err
	}

	if err := c.setCursor(); err != nil {
		return err
	}
	return c.sendBulk(cmdWriteRAMOld, buffer)
}

// Clear runs a full refresh with every byte set to fill (0xFF white,
// 0x00 black).
func (c *Controller) Clear(fill byte) error {
	buffer := make([]byte, c.bufLen)
	for i := range buffer {
		buffer[i] = fill
	}
	return c.Display(buffer)
}

// Sleep puts the controller into deep sleep. Only Reset or Init are
// legal afterwards.
func (c *Controller) Sleep() error {
	if c.state != FullReady && c.state != PartialReady {
		return &InvalidStateError{Op: "sleep", State: c.state}
	}
	if err := c.send(cmdDeepSleep, 0x01); err != nil {
		return err
	}
	c.state = Sleeping
	return nil
}

// Close releases the bus handle. Idempotent; must run on every exit
// path so the control lines are not left in an indeterminate state.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.bus.Close()
	})
	return c.closeErr
}

// waitIdle polls the busy line until released. A timeout faults the
// controller and returns *RefreshTimeoutError.
func (c *Controller) waitIdle(op string, timeout time.Duration) error {
	ok, err := c.bus.WaitLine(bus.LineBusy, bus.Low, timeout)
	if err != nil {
		return err
	}
	if !ok {
		c.state = Faulted
		return &RefreshTimeoutError{Op: op, Timeout: timeout}
	}
	return nil
}

// setWindow sets the RAM window to the full panel.
func (c *Controller) setWindow() error {
	xEnd := byte(c.width/8 - 1)
	yEnd := c.height - 1
	if err := c.send(cmdRAMXRange, 0x00, xEnd); err != nil {
		return err
	}
	return c.send(cmdRAMYRange, 0x00, 0x00, byte(yEnd&0xFF), byte(yEnd>>8))
}

// setCursor moves the RAM cursor to the origin.
func (c *Controller) setCursor() error {
	if err := c.send(cmdRAMXCursor, 0x00); err != nil {
		return err
	}
	return c.send(cmdRAMYCursor, 0x00, 0x00)
}

// sendCommand writes a single command byte: DC low, bracketed by chip
// select. DC is returned high afterwards.
func (c *Controller) sendCommand(cmd byte) error {
	if err := c.bus.SetLine(bus.LineDC, bus.Low); err != nil {
		return err
	}
	if err := c.bus.SetLine(bus.LineCS, bus.Low); err != nil {
		return err
	}
	werr := c.bus.Write([]byte{cmd})
	if err := c.bus.SetLine(bus.LineCS, bus.High); err != nil && werr == nil {
		werr = err
	}
	if err := c.bus.SetLine(bus.LineDC, bus.High); err != nil && werr == nil {
		werr = err
	}
	return werr
}

// sendBulk writes a command followed by a payload held under a single
// chip-select assertion.
func (c *Controller) sendBulk(cmd byte, data []byte) error {
	if err := c.sendCommand(cmd); err != nil {
		return err
	}
	if err := c.bus.SetLine(bus.LineDC, bus.High); err != nil {
		return err
	}
	if err := c.bus.SetLine(bus.LineCS, bus.Low); err != nil {
		return err
	}
	werr := c.bus.Write(data)
	if err := c.bus.SetLine(bus.LineCS, bus.High); err != nil && werr == nil {
		werr = err
	}
	return werr
}

// send writes a command followed by its parameter bytes.
func (c *Controller) send(cmd byte, data ...byte) error {
	return c.sendBulk(cmd, data)
}
