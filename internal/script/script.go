// Package script loads Lua effects. Each script defines a global
// render(n, tick) that paints n pixels through the functions exposed here.
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

const renderFunc = "render"

// Effect is one compiled script. Its Lua state is shared by every channel
// running the effect, so script globals are shared too.
type Effect struct {
	id   string
	name string

	mu     sync.Mutex
	L      *lua.LState
	render lua.LValue
	frame  *effects.Frame
	failed bool
}

// Load compiles the script at path. The effect id is the upper-cased file
// stem, e.g. plasma.lua becomes PLASMA.
func Load(path string) (*Effect, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Compile(stem, string(src))
}

// Compile builds an effect named name from Lua source.
func Compile(name, src string) (*Effect, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("script: empty effect name")
	}
	e := &Effect{
		id:   effects.Normalize(name),
		name: name,
		L:    lua.NewState(),
	}
	e.registerFunctions()
	if err := e.L.DoString(src); err != nil {
		e.L.Close()
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	fn := e.L.GetGlobal(renderFunc)
	if fn.Type() != lua.LTFunction {
		e.L.Close()
		return nil, fmt.Errorf("script %s: no %s(n, tick) function", name, renderFunc)
	}
	e.render = fn
	return e, nil
}

func (e *Effect) ID() string { return e.id }

// Effect is the registry entry for the engine.
func (e *Effect) Effect() effects.Effect {
	return effects.Effect{ID: e.id, Name: e.name, Render: e.Render}
}

// Render runs render(n, tick) against f. A script error is logged once and
// leaves the buffer as the script left it.
func (e *Effect) Render(f *effects.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frame = f
	defer func() { e.frame = nil }()

	err := e.L.CallByParam(lua.P{Fn: e.render, NRet: 0, Protect: true},
		lua.LNumber(len(f.Pixels)), lua.LNumber(f.Tick))
	if err != nil {
		if !e.failed {
			log.Warn().Err(err).Str("effect", e.id).Msg("lua render failed")
		}
		e.failed = true
		return
	}
	e.failed = false
}

func (e *Effect) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
}

// LoadDir compiles every *.lua file in dir. A missing dir is not an error.
// Scripts that fail to compile are logged and skipped.
func LoadDir(dir string) ([]*Effect, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	var out []*Effect
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".lua" {
			continue
		}
		fx, err := Load(filepath.Join(dir, ent.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", ent.Name()).Msg("skipping lua effect")
			continue
		}
		out = append(out, fx)
	}
	return out, nil
}

// RegisterDir loads dir and registers each script with eng, replacing any
// built-in of the same id.
func RegisterDir(eng *effects.Engine, dir string) ([]*Effect, error) {
	fxs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, fx := range fxs {
		eng.Register(fx.Effect())
		log.Info().Str("effect", fx.ID()).Msg("registered lua effect")
	}
	return fxs, nil
}

func (e *Effect) registerFunctions() {
	L := e.L
	for name, fn := range map[string]lua.LGFunction{
		"set_pixel":  e.luaSetPixel,
		"get_pixel":  e.luaGetPixel,
		"fill":       e.luaFill,
		"due":        e.luaDue,
		"random":     e.luaRandom,
		"color":      e.luaColor,
		"brightness": e.luaBrightness,
		"speed":      e.luaSpeed,
		"sin8":       luaSin8,
		"gamma":      luaGamma,
		"hsv":        luaHSV,
		"print":      luaPrint,
	} {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

func checkByte(L *lua.LState, n int) uint8 {
	v := L.OptInt(n, 0)
	return uint8(min(max(v, 0), 255))
}

func pushColor(L *lua.LState, c pixel.Color) int {
	L.Push(lua.LNumber(c.R))
	L.Push(lua.LNumber(c.G))
	L.Push(lua.LNumber(c.B))
	L.Push(lua.LNumber(c.W))
	return 4
}

// set_pixel(i, r, g, b [, w]) with a 0-based index. Out of range is ignored.
func (e *Effect) luaSetPixel(L *lua.LState) int {
	i := L.CheckInt(1)
	if e.frame == nil || i < 0 || i >= len(e.frame.Pixels) {
		return 0
	}
	e.frame.Pixels[i] = pixel.Color{R: checkByte(L, 2), G: checkByte(L, 3), B: checkByte(L, 4), W: checkByte(L, 5)}
	return 0
}

func (e *Effect) luaGetPixel(L *lua.LState) int {
	i := L.CheckInt(1)
	if e.frame == nil || i < 0 || i >= len(e.frame.Pixels) {
		return pushColor(L, pixel.Color{})
	}
	return pushColor(L, e.frame.Pixels[i])
}

func (e *Effect) luaFill(L *lua.LState) int {
	if e.frame != nil {
		e.frame.Fill(pixel.Color{R: checkByte(L, 1), G: checkByte(L, 2), B: checkByte(L, 3), W: checkByte(L, 4)})
	}
	return 0
}

// due(div) advances the per-channel step clock like the built-in effects do.
func (e *Effect) luaDue(L *lua.LState) int {
	div := L.OptInt(1, 1)
	if e.frame == nil || div < 1 {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(e.frame.Due(uint32(div))))
	return 1
}

func (e *Effect) luaRandom(L *lua.LState) int {
	if e.frame == nil || e.frame.Rand == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(e.frame.Rand.Uint32() & 0xff))
	return 1
}

func (e *Effect) luaColor(L *lua.LState) int {
	if e.frame == nil {
		return pushColor(L, pixel.Color{})
	}
	return pushColor(L, e.frame.Config.Color)
}

func (e *Effect) luaBrightness(L *lua.LState) int {
	var b uint8
	if e.frame != nil {
		b = e.frame.Config.Brightness
	}
	L.Push(lua.LNumber(b))
	return 1
}

func (e *Effect) luaSpeed(L *lua.LState) int {
	var s uint8
	if e.frame != nil {
		s = e.frame.Config.Speed
	}
	L.Push(lua.LNumber(s))
	return 1
}

func luaSin8(L *lua.LState) int {
	L.Push(lua.LNumber(pixel.Sin8(uint8(L.CheckInt(1)))))
	return 1
}

func luaGamma(L *lua.LState) int {
	L.Push(lua.LNumber(pixel.Gamma(checkByte(L, 1))))
	return 1
}

// hsv(h, s, v) returns r, g, b.
func luaHSV(L *lua.LState) int {
	c := pixel.FromHSV(uint8(L.CheckInt(1)), checkByte(L, 2), checkByte(L, 3))
	L.Push(lua.LNumber(c.R))
	L.Push(lua.LNumber(c.G))
	L.Push(lua.LNumber(c.B))
	return 3
}

func luaPrint(L *lua.LState) int {
	log.Info().Str("source", "lua").Msg(L.ToString(1))
	return 0
}
