package led

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
	"github.com/coreman2200/pixdriver/internal/protocol"
)

// Per-component current draw at full scale, in mA.
const ComponentCurrent = 20

const (
	teardownPolls = 100
	teardownPoll  = 10 * time.Millisecond
	// how long a cancelled task gets before it is abandoned
	forceGrace = 250 * time.Millisecond
	// one in flight, one ready, one being encoded
	poolSize = 3
)

// Status is the lifecycle position of a Channel.
type Status int32

const (
	Uninitialized Status = iota
	Ready
	Transmitting
	Terminating
	Closed
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Transmitting:
		return "transmitting"
	case Terminating:
		return "terminating"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

type frame struct {
	buf []byte
}

// Channel is one strip: its effect settings, raw and scaled pixel buffers,
// and the task that feeds encoded frames to the peripheral.
//
// Animate, ApplyScaling and Transmit are meant to be called from a single
// scheduling goroutine. Setters may be called from anywhere.
type Channel struct {
	id  int
	cfg Config

	mu     sync.RWMutex
	effect effects.Config

	pixMu  sync.Mutex
	raw    []pixel.Color
	scaled []pixel.Color

	dev      Peripheral
	request  signal
	complete signal
	free     chan *frame
	ready    atomic.Pointer[frame]
	expect   atomic.Int64
	sent     atomic.Int64
	total    atomic.Uint64

	status    atomic.Int32
	terminate atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New allocates a channel with default effect settings. It does nothing
// with hardware until Initialize.
func New(id int, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Channel{
		id:     id,
		cfg:    cfg,
		effect: effects.DefaultConfig(),
		raw:    make([]pixel.Color, cfg.Pixels),
		scaled: make([]pixel.Color, cfg.Pixels),
	}, nil
}

func (c *Channel) ID() int        { return c.id }
func (c *Channel) Config() Config { return c.cfg }
func (c *Channel) Status() Status { return Status(c.status.Load()) }

// Initialize opens the peripheral and starts the transmit task. On error
// the channel must not be used further.
func (c *Channel) Initialize(op Opener) error {
	if c.Status() != Uninitialized {
		return fmt.Errorf("channel %d: already initialized", c.id)
	}
	if op == nil {
		return fmt.Errorf("channel %d: %w: no peripheral opener", c.id, ErrHardwareInit)
	}
	dev, err := op.Open(c.cfg)
	if err != nil {
		return fmt.Errorf("channel %d on %q: %w: %w", c.id, c.cfg.Pin, ErrHardwareInit, err)
	}
	c.dev = dev
	c.request = newSignal()
	c.complete = newSignal()
	c.free = make(chan *frame, poolSize)
	size := protocol.BufferSize(c.cfg.Pixels, c.cfg.Format)
	for i := 0; i < poolSize; i++ {
		c.free <- &frame{buf: make([]byte, size)}
	}
	dev.OnSent(c.onSent)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status.Store(int32(Ready))
	go c.run(ctx)

	log.Debug().Int("channel", c.id).Str("pin", c.cfg.Pin).Int("pixels", c.cfg.Pixels).
		Stringer("format", c.cfg.Format).Msg("channel initialized")
	return nil
}

// onSent runs in the peripheral's completion context.
func (c *Channel) onSent(n int) {
	c.total.Add(uint64(n))
	after := c.sent.Add(int64(n))
	want := c.expect.Load()
	if after >= want && after-int64(n) < want {
		c.complete.give()
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-c.request:
		case <-ctx.Done():
			return
		}
		if c.terminate.Load() {
			return
		}
		f := c.ready.Swap(nil)
		if f == nil {
			continue
		}
		c.status.CompareAndSwap(int32(Ready), int32(Transmitting))
		ok := c.send(ctx, f.buf)
		c.status.CompareAndSwap(int32(Transmitting), int32(Ready))
		if !ok {
			return
		}
		c.free <- f
	}
}

// send pushes one encoded frame and waits for its completion. It returns
// false only when the task is being forced down.
func (c *Channel) send(ctx context.Context, buf []byte) bool {
	c.sent.Store(0)
	c.expect.Store(int64(len(buf)))

	n, err := c.dev.Preload(buf)
	if err != nil {
		log.Warn().Err(err).Int("channel", c.id).Msg("preload failed")
		n = 0
	}
	if err := c.dev.Enable(); err != nil {
		log.Warn().Err(err).Int("channel", c.id).Msg("enable failed")
		return true
	}
	if n < len(buf) {
		if _, err := c.dev.Write(buf[n:], WriteTimeout); err != nil {
			log.Warn().Err(err).Int("channel", c.id).Int("bytes", len(buf)-n).Msg("transmit write did not finish in time")
		}
	}
	select {
	case <-c.complete:
	case <-ctx.Done():
		return false
	}
	if err := c.dev.Disable(); err != nil {
		log.Debug().Err(err).Int("channel", c.id).Msg("disable")
	}
	return true
}

// Transmit encodes the scaled buffer and hands it to the channel task. It
// does not wait for the hardware.
func (c *Channel) Transmit() {
	if s := c.Status(); s != Ready && s != Transmitting {
		return
	}
	var f *frame
	select {
	case f = <-c.free:
	default:
		log.Debug().Int("channel", c.id).Msg("no free frame, skipping transmit")
		return
	}
	c.mu.RLock()
	mask := c.effect.Mask
	c.mu.RUnlock()

	c.pixMu.Lock()
	f.buf = protocol.Encode(f.buf, c.scaled, c.cfg.Format, mask)
	c.pixMu.Unlock()

	if old := c.ready.Swap(f); old != nil {
		c.free <- old
	}
	c.request.give()
}

// Close stops the task and releases the peripheral. A task that does not
// exit within the grace period is cancelled and ErrTeardownTimeout returned.
func (c *Channel) Close() error {
	switch c.Status() {
	case Uninitialized:
		c.status.Store(int32(Closed))
		return nil
	case Closed, Terminating:
		return nil
	}
	c.status.Store(int32(Terminating))
	c.terminate.Store(true)
	c.request.give()

	var err error
	if !c.waitExit() {
		err = fmt.Errorf("channel %d: %w", c.id, ErrTeardownTimeout)
		log.Warn().Err(err).Int("channel", c.id).Msg("channel task unresponsive, forcing")
		c.cancel()
		t := time.NewTimer(forceGrace)
		select {
		case <-c.done:
		case <-t.C:
			log.Error().Int("channel", c.id).Msg("channel task ignored cancel, abandoning it")
		}
		t.Stop()
	}
	c.cancel()
	if cerr := c.dev.Close(); cerr != nil {
		log.Warn().Err(cerr).Int("channel", c.id).Msg("release peripheral")
	}
	c.status.Store(int32(Closed))
	return err
}

func (c *Channel) waitExit() bool {
	for i := 0; i < teardownPolls; i++ {
		select {
		case <-c.done:
			return true
		case <-time.After(teardownPoll):
		}
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// BytesSent is the running total reported by the peripheral.
func (c *Channel) BytesSent() uint64 { return c.total.Load() }
