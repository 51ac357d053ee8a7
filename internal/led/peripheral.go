package led

import (
	"time"

	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a single peripheral write.
const WriteTimeout = time.Second

// Peripheral is a serial output able to shift a prepared byte stream onto a
// pin. OnSent callbacks may run on any goroutine and must not block.
type Peripheral interface {
	// Preload queues the head of buf before the output is enabled and
	// returns how many bytes were taken.
	Preload(buf []byte) (int, error)
	Enable() error
	// Write queues buf, waiting at most timeout for room.
	Write(buf []byte, timeout time.Duration) (int, error)
	Disable() error
	// OnSent registers the completion callback, called with each batch of
	// bytes that has left the peripheral.
	OnSent(func(n int))
	Close() error
}

// Opener configures a Peripheral for a channel.
type Opener interface {
	Open(cfg Config) (Peripheral, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(cfg Config) (Peripheral, error)

func (f OpenerFunc) Open(cfg Config) (Peripheral, error) { return f(cfg) }

// signal is a binary semaphore. give never blocks, so it is safe from
// completion callbacks.
type signal chan struct{}

func newSignal() signal { return make(signal, 1) }

func (s signal) give() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// Fallback opens with Primary and, if that fails, with Secondary. It lets a
// channel come up on the simulator when its port is missing.
type Fallback struct {
	Primary   Opener
	Secondary Opener
}

func (f Fallback) Open(cfg Config) (Peripheral, error) {
	p, err := f.Primary.Open(cfg)
	if err == nil || f.Secondary == nil {
		return p, err
	}
	log.Warn().Err(err).Str("pin", cfg.Pin).Msg("primary output failed; falling back")
	return f.Secondary.Open(cfg)
}
