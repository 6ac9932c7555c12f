package bus

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// spidev rejects transfers larger than a page worth of buffer on most
// kernels, so bulk writes are chunked.
const writeChunk = 4096

// pollInterval is how often WaitLine samples the busy line.
const pollInterval = 10 * time.Millisecond

// Opts configures the hardware bus.
type Opts struct {
	// SPIPort is a spireg name; empty selects the first available port.
	SPIPort string
	// Hz is the SPI clock rate (mode 0, 8-bit transfers).
	Hz int
	// DC, CS, RST, Busy are gpioreg pin names (e.g. "GPIO25").
	DC, CS, RST, Busy string
}

// Periph is the hardware Bus backed by periph.io SPI and GPIO.
type Periph struct {
	port spi.PortCloser
	conn spi.Conn

	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	closeOnce sync.Once
	closeErr  error
}

// Open initializes the periph host, opens the SPI port and claims the
// four control lines. Output lines are driven to their idle levels
// (CS/RST/DC high, matching the controller's rest state).
func Open(o Opts) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, transportErr("host init", err)
	}

	port, err := spireg.Open(o.SPIPort)
	if err != nil {
		return nil, transportErr("spi open", err)
	}

	hz := o.Hz
	if hz <= 0 {
		hz = 4_000_000
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, transportErr("spi connect", err)
	}

	p := &Periph{port: port, conn: conn}

	out := func(name string, level gpio.Level) (gpio.PinOut, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, transportErr("gpio lookup", fmt.Errorf("pin %q not found", name))
		}
		if err := pin.Out(level); err != nil {
			return nil, transportErr("gpio out", err)
		}
		return pin, nil
	}

	if p.dc, err = out(o.DC, gpio.High); err == nil {
		if p.cs, err = out(o.CS, gpio.High); err == nil {
			p.rst, err = out(o.RST, gpio.High)
		}
	}
	if err == nil {
		pin := gpioreg.ByName(o.Busy)
		if pin == nil {
			err = transportErr("gpio lookup", fmt.Errorf("pin %q not found", o.Busy))
		} else if inErr := pin.In(gpio.Float, gpio.NoEdge); inErr != nil {
			err = transportErr("gpio in", inErr)
		} else {
			p.busy = pin
		}
	}
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return p, nil
}

func (p *Periph) Write(data []byte) error {
	for off := 0; off < len(data); off += writeChunk {
		end := off + writeChunk
		if end > len(data) {
			end = len(data)
		}
		if err := p.conn.Tx(data[off:end], nil); err != nil {
			return transportErr("spi write", err)
		}
	}
	return nil
}

func (p *Periph) SetLine(name Line, level Level) error {
	pin, err := p.outPin(name)
	if err != nil {
		return err
	}
	if err := pin.Out(gpio.Level(level)); err != nil {
		return transportErr("set "+string(name), err)
	}
	return nil
}

func (p *Periph) ReadLine(name Line) (Level, error) {
	if name != LineBusy {
		return Low, transportErr("read "+string(name), fmt.Errorf("not an input line"))
	}
	return Level(p.busy.Read()), nil
}

func (p *Periph) WaitLine(name Line, level Level, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		got, err := p.ReadLine(name)
		if err != nil {
			return false, err
		}
		if got == level {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

// Close releases the SPI handle and leaves the output lines in their
// idle-high state so the panel is not left half-selected.
func (p *Periph) Close() error {
	p.closeOnce.Do(func() {
		_ = p.cs.Out(gpio.High)
		_ = p.dc.Out(gpio.High)
		_ = p.rst.Out(gpio.High)
		if err := p.port.Close(); err != nil {
			p.closeErr = transportErr("spi close", err)
		}
	})
	return p.closeErr
}

func (p *Periph) outPin(name Line) (gpio.PinOut, error) {
	switch name {
	case LineDC:
		return p.dc, nil
	case LineCS:
		return p.cs, nil
	case LineRST:
		return p.rst, nil
	default:
		return nil, transportErr("set "+string(name), fmt.Errorf("not an output line"))
	}
}
