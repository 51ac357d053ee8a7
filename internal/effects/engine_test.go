package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/pixdriver/internal/pixel"
)

func run(e *Engine, id int, cfg *Config, buf []pixel.Color, from, to uint32) {
	for tick := from; tick < to; tick++ {
		e.Update(id, cfg, buf, tick)
	}
}

func TestInterval(t *testing.T) {
	for _, v := range []struct {
		Rate   uint32
		Speed  uint8
		Expect uint32
	}{
		{60, 5, 36},
		{60, 10, 6},
		{60, 1, 60},
		{60, 0, 60},
		{60, 200, 6},
		{5, 5, 0},
		{100, 3, 80},
	} {
		assert.Equal(t, v.Expect, Interval(v.Rate, v.Speed), "rate=%d speed=%d", v.Rate, v.Speed)
	}
}

func TestRainbowOffsetScenario(t *testing.T) {
	e := NewEngine(60, NewXorShift32(DefaultSeed))
	cfg := DefaultConfig()
	cfg.Effect = "rainbow"
	buf := make([]pixel.Color, 10)

	e.Update(0, &cfg, buf, 0)
	assert.Equal(t, pixel.FromHSV(0, 255, 255), buf[0])
	assert.Equal(t, pixel.FromHSV(25, 255, 255), buf[1])

	run(e, 0, &cfg, buf, 1, 100)
	st, ok := e.State(0)
	require.True(t, ok)
	assert.Equal(t, 2, rainbowOffset(st))
	assert.Equal(t, pixel.FromHSV(2, 255, 255), buf[0])
}

func rainbowOffset(st State) int { return st.Scratch.(*OffsetState).Offset }

func TestSolidIdempotent(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Color = pixel.Color{R: 1, G: 2, B: 3, W: 4}
	buf := make([]pixel.Color, 8)
	var first []pixel.Color
	for tick := uint32(0); tick < 500; tick++ {
		e.Update(1, &cfg, buf, tick)
		if first == nil {
			first = append([]pixel.Color(nil), buf...)
		}
		require.Equal(t, first, buf)
	}
	assert.Equal(t, cfg.Color, first[0])
}

func TestBlinkTwoFrames(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Effect = Blink
	cfg.Speed = 10
	buf := make([]pixel.Color, 4)

	seen := map[pixel.Color]int{}
	toggles := 0
	prev := pixel.Color{R: 42}
	for tick := uint32(0); tick < 120; tick++ {
		e.Update(0, &cfg, buf, tick)
		for _, p := range buf[1:] {
			require.Equal(t, buf[0], p)
		}
		seen[buf[0]]++
		if buf[0] != prev && tick > 0 {
			toggles++
		}
		prev = buf[0]
	}
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, cfg.Color)
	assert.Contains(t, seen, pixel.Black)
	// interval 6 at 60Hz: toggles at 6, 12, ... 114
	assert.Equal(t, 19, toggles)
}

func TestUnknownFallsBackToSolid(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Effect = "does-not-exist"
	buf := make([]pixel.Color, 3)
	e.Update(0, &cfg, buf, 0)
	assert.Equal(t, []pixel.Color{cfg.Color, cfg.Color, cfg.Color}, buf)

	// Even if solid itself is removed.
	require.True(t, e.Unregister("solid"))
	clear(buf)
	e.Update(0, &cfg, buf, 1)
	assert.Equal(t, cfg.Color, buf[2])
}

func TestRawLeavesBuffer(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Effect = "raw"
	buf := []pixel.Color{pixel.Red, pixel.Green}
	e.Update(0, &cfg, buf, 0)
	assert.Equal(t, []pixel.Color{pixel.Red, pixel.Green}, buf)
	_, ok := e.State(0)
	assert.False(t, ok)
}

func TestStateResetsOnEffectChange(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Effect = TheaterChase
	cfg.Speed = 10
	buf := make([]pixel.Color, 6)
	run(e, 3, &cfg, buf, 0, 13)
	st, _ := e.State(3)
	assert.Equal(t, 2, st.Scratch.(*OffsetState).Offset)
	assert.Equal(t, uint32(12), st.LastUpdate)

	cfg.Effect = "Theater_Chase"
	e.Update(3, &cfg, buf, 13)
	st, _ = e.State(3)
	assert.Equal(t, 2, st.Scratch.(*OffsetState).Offset, "case change is the same effect")

	cfg.Effect = Rainbow
	e.Update(3, &cfg, buf, 14)
	st, _ = e.State(3)
	assert.Equal(t, Rainbow, st.Effect)
	assert.Equal(t, 1, st.Scratch.(*OffsetState).Offset)

	e.Forget(3)
	_, ok := e.State(3)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	e := NewEngine(60, nil)
	list := e.Effects()
	require.Len(t, list, 17)
	assert.Equal(t, Info{ID: Solid, Name: "Solid"}, list[0])
	assert.Equal(t, Info{ID: Custom, Name: "Custom"}, list[16])

	e.RegisterFunc("stripes", "Stripes", func(f *Frame) {
		for i := range f.Pixels {
			if i%2 == 0 {
				f.Pixels[i] = f.Config.Color
			} else {
				f.Pixels[i] = pixel.Black
			}
		}
	})
	e.RegisterFunc("", "nameless", func(*Frame) {})
	e.RegisterFunc("nil", "nil", nil)
	e.RegisterFunc("raw", "raw", func(*Frame) {})

	list = e.Effects()
	require.Len(t, list, 18)
	assert.Equal(t, Info{ID: "STRIPES", Name: "Stripes"}, list[17])

	fx, ok := e.Lookup("Stripes")
	require.True(t, ok)
	assert.Equal(t, "STRIPES", fx.ID)

	cfg := DefaultConfig()
	cfg.Effect = "stripes"
	buf := make([]pixel.Color, 3)
	e.Update(0, &cfg, buf, 0)
	assert.Equal(t, []pixel.Color{cfg.Color, pixel.Black, cfg.Color}, buf)

	assert.True(t, e.Unregister("STRIPES"))
	assert.False(t, e.Unregister("STRIPES"))
	assert.Len(t, e.Effects(), 17)
}

func TestCustomCallback(t *testing.T) {
	e := NewEngine(60, nil)
	cfg := DefaultConfig()
	cfg.Effect = Custom
	buf := make([]pixel.Color, 2)

	e.Update(0, &cfg, buf, 0)
	assert.Equal(t, cfg.Color, buf[0], "no callback means solid")

	var ticks []uint32
	cfg.Custom = func(b []pixel.Color, tick uint32) {
		ticks = append(ticks, tick)
		b[1] = pixel.Blue
	}
	e.Update(0, &cfg, buf, 7)
	assert.Equal(t, []uint32{7}, ticks)
	assert.Equal(t, pixel.Blue, buf[1])
}

func TestEmptyBuffer(t *testing.T) {
	e := NewEngine(60, nil)
	for _, info := range e.Effects() {
		cfg := DefaultConfig()
		cfg.Effect = info.ID
		assert.NotPanics(t, func() { e.Update(0, &cfg, nil, 100) }, info.ID)
	}
}

func TestSetRate(t *testing.T) {
	e := NewEngine(60, nil)
	assert.Equal(t, uint32(36), e.Interval(5))
	e.SetRate(120)
	assert.Equal(t, uint32(120), e.Rate())
	assert.Equal(t, uint32(72), e.Interval(5))
}

func TestXorShift32(t *testing.T) {
	r := NewXorShift32(1)
	assert.Equal(t, uint32(270369), r.Uint32())

	a, b := NewXorShift32(DefaultSeed), NewXorShift32(DefaultSeed)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Uint32(), b.Uint32())
	}

	z := NewXorShift32(0)
	assert.NotZero(t, z.Uint32())
}

func TestSettings(t *testing.T) {
	cfg := DefaultConfig()
	var s Settings
	assert.True(t, s.Empty())

	speed := uint8(42)
	on := false
	s = Settings{Speed: &speed, Enabled: &on}
	s.Apply(&cfg)
	assert.Equal(t, uint8(MaxSpeed), cfg.Speed)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, Solid, cfg.Effect)

	back := DefaultConfig()
	SettingsOf(cfg).Apply(&back)
	assert.Equal(t, cfg, back)
}
