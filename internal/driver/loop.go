package driver

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

// Scale returns the factor that brings total (mA) within limit once the
// system reserve is taken out. A limit of zero or less means no limiting.
func Scale(total uint32, limit int32) float32 {
	if limit <= 0 {
		return 1
	}
	avail := int64(limit) - SystemReserve
	if avail < 0 {
		avail = 0
	}
	if int64(total) <= avail {
		return 1
	}
	if avail == 0 {
		return 0
	}
	return float32(avail) / float32(total)
}

func floatBits(f float32) uint32 { return math.Float32bits(f) }

// Start launches the update loop. It is a no-op if the loop already runs.
func (d *Driver) Start() error {
	if !d.Initialized() {
		return ErrNotInitialized
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	go d.loop(ctx, d.done)
	log.Info().Uint32("rate_hz", d.UpdateRate()).Msg("driver started")
	return nil
}

// Stop ends the loop and waits for the current tick to finish.
func (d *Driver) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	<-d.done
	d.running = false
	log.Info().Msg("driver stopped")
}

func (d *Driver) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.running
}

// loop wakes on absolute deadlines so a slow tick does not drift the rate.
func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		d.Step()

		period := time.Second / time.Duration(d.UpdateRate())
		next = next.Add(period)
		wait := time.Until(next)
		if wait <= 0 {
			// Behind schedule; start over from now instead of bursting.
			next = time.Now()
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Step runs one tick: animate, limit current, transmit. The loop calls it;
// tests and the preview tool call it directly.
func (d *Driver) Step() {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	d.mu.RLock()
	engine := d.engine
	hooks := d.hooks
	d.mu.RUnlock()
	if engine == nil {
		return
	}
	chans := d.Channels()
	tick := d.tick.Load()

	var level uint64
	for _, ch := range chans {
		ch.Animate(engine, tick)
		level += ch.Level()
	}
	total := led.Current(level)
	scale := Scale(total, d.CurrentLimit())
	d.scale.Store(floatBits(scale))
	if scale < 1 {
		log.Trace().Uint32("total_ma", total).Float32("scale", scale).Msg("current limited")
	}
	for _, ch := range chans {
		ch.ApplyScaling(scale)
		ch.Transmit()
	}
	d.tick.Add(1)

	for _, fn := range hooks {
		fn(tick)
	}
}

// TotalCurrent is the unscaled estimate for every channel in mA. Levels are
// summed across channels before converting.
func (d *Driver) TotalCurrent() uint32 {
	var level uint64
	for _, ch := range d.Channels() {
		level += ch.Level()
	}
	return led.Current(level)
}

// ScaleFactor is the scale the limiter would apply right now.
func (d *Driver) ScaleFactor() float32 {
	return Scale(d.TotalCurrent(), d.CurrentLimit())
}

// ScaledCurrent is the estimate after limiting.
func (d *Driver) ScaledCurrent() uint32 {
	total := d.TotalCurrent()
	return uint32(float32(total) * Scale(total, d.CurrentLimit()))
}

// SentCurrent estimates the draw of the frames last handed to Transmit.
func (d *Driver) SentCurrent() uint32 {
	var level uint64
	for _, ch := range d.Channels() {
		level += ch.ScaledLevel()
	}
	return led.Current(level)
}

// LastScale is the factor applied on the most recent tick.
func (d *Driver) LastScale() float32 {
	return math.Float32frombits(d.scale.Load())
}

func (d *Driver) each(fn func(*led.Channel)) {
	for _, ch := range d.Channels() {
		fn(ch)
	}
}

func (d *Driver) SetAllEffect(id string) { d.each(func(c *led.Channel) { c.SetEffectID(id) }) }
func (d *Driver) SetAllColor(col pixel.Color) { d.each(func(c *led.Channel) { c.SetColor(col) }) }
func (d *Driver) SetAllBrightness(b uint8) { d.each(func(c *led.Channel) { c.SetBrightness(b) }) }
func (d *Driver) SetAllEnabled(on bool) { d.each(func(c *led.Channel) { c.SetEnabled(on) }) }
func (d *Driver) SetAllSpeed(s uint8) { d.each(func(c *led.Channel) { c.SetSpeed(s) }) }
