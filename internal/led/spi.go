package led

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

const defaultChunk = 4096

// SPIOpener opens channels on periph SPI ports. Config.Pin names the port,
// e.g. "SPI0.0" or "/dev/spidev0.0"; an empty name picks the first port.
type SPIOpener struct {
	// Port opens a port by name. Nil means spireg.Open.
	Port func(name string) (spi.PortCloser, error)
}

func (o SPIOpener) Open(cfg Config) (Peripheral, error) {
	cfg = cfg.withDefaults()
	open := o.Port
	if open == nil {
		open = spireg.Open
	}
	port, err := open(cfg.Pin)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", cfg.Pin, err)
	}
	// 16-bit words; the encoder already swapped each byte pair for this.
	c, err := port.Connect(cfg.ClockRate, spi.Mode0, 16)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("connect spi port %q at %s: %w", cfg.Pin, cfg.ClockRate, err)
	}
	chunk := defaultChunk
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		chunk = l.MaxTxSize() &^ 1
	}
	log.Debug().Str("port", c.String()).Int("chunk", chunk).Msg("spi connected")
	return &spiDev{port: port, c: c, chunk: max(2, chunk)}, nil
}

// spiDev has no hardware FIFO to preload; Write pushes chunks through Tx and
// reports each one as sent once Tx returns.
type spiDev struct {
	mu      sync.Mutex
	port    spi.PortCloser
	c       spi.Conn
	chunk   int
	onSent  func(int)
	enabled bool
	pad     []byte
}

func (d *spiDev) Preload(buf []byte) (int, error) { return 0, nil }

func (d *spiDev) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return ErrClosed
	}
	d.enabled = true
	return nil
}

func (d *spiDev) Disable() error {
	d.mu.Lock()
	d.enabled = false
	d.mu.Unlock()
	return nil
}

func (d *spiDev) OnSent(fn func(int)) {
	d.mu.Lock()
	d.onSent = fn
	d.mu.Unlock()
}

func (d *spiDev) Write(buf []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := d.tx(buf)
		done <- result{n, err}
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-done:
		return r.n, r.err
	case <-t.C:
		return 0, fmt.Errorf("spi write of %d bytes: %w", len(buf), ErrTransmitTimeout)
	}
}

func (d *spiDev) tx(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return 0, ErrClosed
	}
	if !d.enabled {
		return 0, fmt.Errorf("spi write while disabled")
	}
	out := buf
	if len(out)%2 == 1 {
		// Words are 16 bits wide; the extra byte is part of the latch.
		d.pad = append(append(d.pad[:0], buf...), 0)
		out = d.pad
	}
	sent := 0
	for off := 0; off < len(out); off += d.chunk {
		end := min(off+d.chunk, len(out))
		if err := d.c.Tx(out[off:end], nil); err != nil {
			return sent, fmt.Errorf("spi tx: %w", err)
		}
		n := min(end, len(buf)) - off
		sent += n
		if d.onSent != nil && n > 0 {
			d.onSent(n)
		}
	}
	return sent, nil
}

func (d *spiDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
