// Package led drives one WS2812 strip per Channel through a serial
// peripheral: pixel buffers, brightness scaling, and the transmit task.
package led

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixdriver/internal/pixel"
	"github.com/coreman2200/pixdriver/internal/protocol"
)

// DefaultClock matches the 3-bit encoding's line rate.
const DefaultClock = protocol.BitRate * physic.Hertz

var (
	// ErrHardwareInit wraps any failure to bring up a channel's peripheral.
	ErrHardwareInit = errors.New("hardware init failed")
	// ErrTransmitTimeout is logged when a peripheral write exceeds its bound.
	ErrTransmitTimeout = errors.New("transmit timeout")
	// ErrTeardownTimeout is returned by Close when the channel task had to be forced.
	ErrTeardownTimeout = errors.New("teardown timeout")
	ErrClosed          = errors.New("channel closed")
)

// Config describes the strip attached to a channel. It does not change after
// the channel is created.
type Config struct {
	Name      string
	Pin       string
	Pixels    int
	Format    pixel.Format
	ClockRate physic.Frequency
}

func (c Config) withDefaults() Config {
	if c.Format == 0 {
		c.Format = pixel.RGB
	}
	if c.ClockRate == 0 {
		c.ClockRate = DefaultClock
	}
	return c
}

func (c Config) validate() error {
	if c.Pixels < 0 {
		return fmt.Errorf("invalid pixel count: %d", c.Pixels)
	}
	if c.Format != pixel.RGB && c.Format != pixel.RGBW {
		return fmt.Errorf("invalid pixel format: %v", c.Format)
	}
	return nil
}
