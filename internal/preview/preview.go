// Package preview renders effects without hardware. Given the same effect,
// color, brightness, speed, seed and tick count it produces the same frame
// the driver's effect engine would.
package preview

import (
	"image"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

// channelID keys the single animation state inside the private engine.
const channelID = 0

type Preview struct {
	n      int
	format pixel.Format
	rand   *effects.XorShift32
	engine *effects.Engine
	cfg    effects.Config
	buf    []pixel.Color
	tick   uint32
}

// New creates a preview of n pixels. rateHz of zero means 60.
func New(n int, f pixel.Format, rateHz uint32) *Preview {
	if rateHz == 0 {
		rateHz = 60
	}
	if n < 0 {
		n = 0
	}
	rnd := effects.NewXorShift32(effects.DefaultSeed)
	return &Preview{
		n:      n,
		format: f,
		rand:   rnd,
		engine: effects.NewEngine(rateHz, rnd),
		cfg:    effects.DefaultConfig(),
		buf:    make([]pixel.Color, n),
	}
}

// Engine exposes the effect registry, e.g. for registering Lua effects.
func (p *Preview) Engine() *effects.Engine { return p.engine }

func (p *Preview) Len() int { return p.n }

// SetEffect switches effects. The animation state resets only when the id
// actually changes.
func (p *Preview) SetEffect(id string) { p.cfg.Effect = id }

func (p *Preview) SetColor(c pixel.Color) { p.cfg.Color = c }

func (p *Preview) SetBrightness(b uint8) { p.cfg.Brightness = b }

// SetSpeed clamps to 1..10.
func (p *Preview) SetSpeed(s uint8) { p.cfg.Speed = effects.ClampSpeed(s) }

// Seed restarts the random sequence.
func (p *Preview) Seed(seed uint32) { p.rand.Seed(seed) }

// Tick renders one frame and advances the tick counter.
func (p *Preview) Tick() {
	p.engine.Update(channelID, &p.cfg, p.buf, p.tick)
	p.tick++
}

// Reset goes back to tick 0 with a black buffer and fresh state. The random
// sequence is left alone; call Seed as well for a full restart.
func (p *Preview) Reset() {
	p.tick = 0
	p.engine.Forget(channelID)
	clear(p.buf)
}

func (p *Preview) Ticks() uint32 { return p.tick }

// Pixels returns a copy of the current buffer.
func (p *Preview) Pixels() []pixel.Color {
	return append([]pixel.Color(nil), p.buf...)
}

// Frame returns 4 bytes per pixel: R, G, B, then W on RGBW strips or 255.
func (p *Preview) Frame() []byte {
	out := make([]byte, 0, p.n*4)
	for _, c := range p.buf {
		a := uint8(255)
		if p.format == pixel.RGBW {
			a = c.W
		}
		out = append(out, c.R, c.G, c.B, a)
	}
	return out
}

func (p *Preview) FrameSize() int { return p.n * 4 }

// Image draws the buffer as a one pixel high strip.
func (p *Preview) Image() *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, p.n, 1))
	for x, c := range p.buf {
		im.SetNRGBA(x, 0, c.NRGBA())
	}
	return im
}

// Effects lists the registered effect ids in display order.
func (p *Preview) Effects() []string {
	infos := p.engine.Effects()
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.ID)
	}
	return out
}
