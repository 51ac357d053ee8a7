package led

import (
	"fmt"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

// Effect returns a copy of the channel's effect settings.
func (c *Channel) Effect() effects.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effect.Clone()
}

// SetEffect replaces the effect settings wholesale. The mask is kept if cfg
// carries none.
func (c *Channel) SetEffect(cfg effects.Config) error {
	if cfg.Mask != nil && len(cfg.Mask) != c.cfg.Pixels {
		return fmt.Errorf("mask length %d does not match %d pixels", len(cfg.Mask), c.cfg.Pixels)
	}
	cfg = cfg.Clone()
	cfg.Speed = effects.ClampSpeed(cfg.Speed)
	c.mu.Lock()
	if cfg.Mask == nil {
		cfg.Mask = c.effect.Mask
	}
	c.effect = cfg
	c.mu.Unlock()
	return nil
}

// Apply overwrites only the fields set in s.
func (c *Channel) Apply(s effects.Settings) {
	c.mu.Lock()
	s.Apply(&c.effect)
	c.mu.Unlock()
}

func (c *Channel) SetEffectID(id string) {
	c.mu.Lock()
	c.effect.Effect = id
	c.mu.Unlock()
}

func (c *Channel) SetColor(col pixel.Color) {
	c.mu.Lock()
	c.effect.Color = col
	c.mu.Unlock()
}

func (c *Channel) SetBrightness(b uint8) {
	c.mu.Lock()
	c.effect.Brightness = b
	c.mu.Unlock()
}

// SetSpeed clamps to 1..10.
func (c *Channel) SetSpeed(s uint8) {
	c.mu.Lock()
	c.effect.Speed = effects.ClampSpeed(s)
	c.mu.Unlock()
}

func (c *Channel) SetEnabled(on bool) {
	c.mu.Lock()
	c.effect.Enabled = on
	c.mu.Unlock()
}

func (c *Channel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effect.Enabled
}

// SetMask hides every pixel whose entry is false.
func (c *Channel) SetMask(mask []bool) error {
	if len(mask) != c.cfg.Pixels {
		return fmt.Errorf("mask length %d does not match %d pixels", len(mask), c.cfg.Pixels)
	}
	m := append([]bool(nil), mask...)
	c.mu.Lock()
	c.effect.Mask = m
	c.mu.Unlock()
	return nil
}

func (c *Channel) ClearMask() {
	c.mu.Lock()
	c.effect.Mask = nil
	c.mu.Unlock()
}

// SetPixels writes the raw buffer directly. It is meant for the RAW effect;
// any other effect overwrites it on the next tick.
func (c *Channel) SetPixels(px []pixel.Color) {
	c.pixMu.Lock()
	n := copy(c.raw, px)
	clear(c.raw[n:])
	c.pixMu.Unlock()
}

// Animate renders one tick into the raw buffer, or blanks it when the
// channel is disabled.
func (c *Channel) Animate(e *effects.Engine, tick uint32) {
	cfg := c.Effect()
	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	if !cfg.Enabled {
		clear(c.raw)
		return
	}
	e.Update(c.id, &cfg, c.raw, tick)
}

// Consumption estimates the raw buffer's draw in mA. White counts only on
// RGBW strips.
func (c *Channel) Consumption() uint32 { return Current(c.Level()) }

// ScaledConsumption is Consumption for the buffer last sent to Transmit.
func (c *Channel) ScaledConsumption() uint32 { return Current(c.ScaledLevel()) }

// Level sums the raw buffer's active components.
func (c *Channel) Level() uint64 {
	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	return Level(c.raw, c.cfg.Format)
}

// ScaledLevel sums the scaled buffer's active components.
func (c *Channel) ScaledLevel() uint64 {
	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	return Level(c.scaled, c.cfg.Format)
}

// Level sums the component values of px. Totals are kept as levels and
// converted with Current once, so dim frames are not truncated away pixel by
// pixel.
func Level(px []pixel.Color, f pixel.Format) uint64 {
	var sum uint64
	for _, p := range px {
		sum += uint64(p.R) + uint64(p.G) + uint64(p.B)
		if f == pixel.RGBW {
			sum += uint64(p.W)
		}
	}
	return sum
}

// Current converts a component level to mA at ComponentCurrent per full
// component, truncated.
func Current(level uint64) uint32 {
	return uint32(level * ComponentCurrent / 255)
}

func Consumption(px []pixel.Color, f pixel.Format) uint32 { return Current(Level(px, f)) }

// ApplyScaling fills the scaled buffer from the raw one using the channel
// brightness and the shared current-limit scale. Values truncate.
func (c *Channel) ApplyScaling(scale float32) {
	c.mu.RLock()
	bright := float32(c.effect.Brightness)
	c.mu.RUnlock()

	limit := scale < 1
	if scale < 0 {
		scale = 0
	}
	comp := func(v uint8) uint8 {
		out := uint8(float32(v) * bright / 255)
		if limit {
			out = uint8(float32(out) * scale)
		}
		return out
	}

	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	for i, p := range c.raw {
		c.scaled[i] = pixel.Color{R: comp(p.R), G: comp(p.G), B: comp(p.B), W: comp(p.W)}
	}
}

// Snapshot copies the scaled buffer.
func (c *Channel) Snapshot() []pixel.Color {
	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	return append([]pixel.Color(nil), c.scaled...)
}

// Raw copies the raw buffer.
func (c *Channel) Raw() []pixel.Color {
	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	return append([]pixel.Color(nil), c.raw...)
}
