package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

const chase = `
pos = pos or 0
function render(n, tick)
  if due(1) then pos = (pos + 1) % n end
  fill(0, 0, 0)
  local r, g, b = color()
  set_pixel(pos, r, g, b)
end
`

func TestCompileAndRender(t *testing.T) {
	fx, err := Compile("gradient_test", `
function render(n, tick)
  for i = 0, n - 1 do
    set_pixel(i, i * 10, sin8(64), gamma(255), tick)
  end
  set_pixel(n + 5, 1, 1, 1)
end`)
	require.NoError(t, err)
	defer fx.Close()
	assert.Equal(t, "GRADIENT_TEST", fx.ID())

	e := effects.NewEngine(60, effects.NewXorShift32(1))
	e.Register(fx.Effect())
	cfg := effects.DefaultConfig()
	cfg.Effect = "gradient_test"
	buf := make([]pixel.Color, 3)
	e.Update(0, &cfg, buf, 7)

	for i, p := range buf {
		assert.Equal(t, pixel.Color{R: uint8(i * 10), G: pixel.Sin8(64), B: pixel.Gamma(255), W: 7}, p)
	}
}

func TestStepClockAndConfig(t *testing.T) {
	fx, err := Compile("chase", chase)
	require.NoError(t, err)
	defer fx.Close()

	e := effects.NewEngine(10, nil)
	e.Register(fx.Effect())
	cfg := effects.DefaultConfig()
	cfg.Effect = "CHASE"
	cfg.Color = pixel.Blue
	cfg.Speed = 10 // one tick per step at 10Hz

	buf := make([]pixel.Color, 4)
	e.Update(0, &cfg, buf, 1)
	assert.Equal(t, pixel.Blue, buf[1])
	e.Update(0, &cfg, buf, 2)
	assert.Equal(t, pixel.Blue, buf[2])
	assert.Equal(t, pixel.Color{}, buf[1])
}

func TestHSVAndRandom(t *testing.T) {
	fx, err := Compile("mix", `
function render(n, tick)
  local r, g, b = hsv(0, 255, 255)
  set_pixel(0, r, g, b)
  set_pixel(1, random(), 0, 0)
  set_pixel(2, brightness(), speed(), 0)
end`)
	require.NoError(t, err)
	defer fx.Close()

	rnd := effects.NewXorShift32(1)
	want := uint8(effects.NewXorShift32(1).Uint32())
	buf := make([]pixel.Color, 3)
	cfg := effects.DefaultConfig()
	fx.Render(&effects.Frame{Config: &cfg, Pixels: buf, State: &effects.State{}, Rand: rnd})

	assert.Equal(t, pixel.FromHSV(0, 255, 255), buf[0])
	assert.Equal(t, want, buf[1].R)
	assert.Equal(t, pixel.Color{R: 255, G: 5}, buf[2])
}

func TestRuntimeErrorKeepsRunning(t *testing.T) {
	fx, err := Compile("broken", `function render(n, tick) error("boom") end`)
	require.NoError(t, err)
	defer fx.Close()
	cfg := effects.DefaultConfig()
	buf := []pixel.Color{pixel.Red}
	assert.NotPanics(t, func() {
		fx.Render(&effects.Frame{Config: &cfg, Pixels: buf, State: &effects.State{}})
		fx.Render(&effects.Frame{Config: &cfg, Pixels: buf, State: &effects.State{}})
	})
	assert.Equal(t, pixel.Red, buf[0])
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("norender", `x = 1`)
	assert.Error(t, err)
	_, err = Compile("syntax", `function render(`)
	assert.Error(t, err)
	_, err = Compile(" ", chase)
	assert.Error(t, err)
}

func TestRegisterDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chase.lua"), []byte(chase), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("function"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	e := effects.NewEngine(60, nil)
	fxs, err := RegisterDir(e, dir)
	require.NoError(t, err)
	require.Len(t, fxs, 1)
	defer fxs[0].Close()
	_, ok := e.Lookup("CHASE")
	assert.True(t, ok)

	fxs, err = RegisterDir(e, filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Empty(t, fxs)
}
