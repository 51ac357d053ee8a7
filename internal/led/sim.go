package led

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an Opener for machines without strips attached. Every opened
// device records what it was asked to send.
type Sim struct {
	// Delay is the simulated wire time per frame.
	Delay time.Duration
	// FailOpen makes Open fail for the listed pins.
	FailOpen map[string]error
	// Stall suppresses completion callbacks, leaving channel tasks blocked.
	Stall bool
	// Hold, when set, blocks Enable until it is closed, ignoring any
	// deadline or cancellation.
	Hold chan struct{}

	mu      sync.Mutex
	devices map[string]*SimDevice
}

func NewSim() *Sim {
	return &Sim{devices: map[string]*SimDevice{}}
}

func (s *Sim) Open(cfg Config) (Peripheral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOpen[cfg.Pin]; err != nil {
		return nil, err
	}
	if s.devices == nil {
		s.devices = map[string]*SimDevice{}
	}
	d := &SimDevice{pin: cfg.Pin, delay: s.Delay, stall: s.Stall, hold: s.Hold}
	s.devices[cfg.Pin] = d
	return d, nil
}

// Device returns the device last opened on pin.
func (s *Sim) Device(pin string) *SimDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[pin]
}

// SimDevice is the Peripheral handed out by Sim.
type SimDevice struct {
	pin   string
	delay time.Duration
	stall bool
	hold  chan struct{}

	mu      sync.Mutex
	onSent  func(int)
	enabled bool
	closed  bool
	cur     []byte
	last    []byte
	frames  int
}

func (d *SimDevice) Preload(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	d.cur = append(d.cur[:0], buf...)
	return len(buf), nil
}

func (d *SimDevice) Enable() error {
	if d.hold != nil {
		<-d.hold
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.enabled = true
	n := len(d.cur)
	d.mu.Unlock()
	if n > 0 {
		d.finish(n)
	}
	return nil
}

func (d *SimDevice) Write(buf []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	if !d.enabled {
		d.mu.Unlock()
		return 0, fmt.Errorf("sim %s: write while disabled", d.pin)
	}
	d.cur = append(d.cur, buf...)
	d.mu.Unlock()
	d.finish(len(buf))
	return len(buf), nil
}

func (d *SimDevice) finish(n int) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.last = append(d.last[:0], d.cur...)
	d.frames++
	cb, stall := d.onSent, d.stall
	d.mu.Unlock()
	if cb != nil && !stall {
		cb(n)
	}
}

func (d *SimDevice) Disable() error {
	d.mu.Lock()
	d.enabled = false
	d.cur = d.cur[:0]
	d.mu.Unlock()
	return nil
}

func (d *SimDevice) OnSent(fn func(int)) {
	d.mu.Lock()
	d.onSent = fn
	d.mu.Unlock()
}

func (d *SimDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Last returns a copy of the bytes of the most recent send.
func (d *SimDevice) Last() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.last...)
}

// Frames counts sends, one per Preload+Enable and one per Write.
func (d *SimDevice) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *SimDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
