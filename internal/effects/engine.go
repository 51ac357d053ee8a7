// Package effects holds the animation engine and the built-in effect library
// shared by the hardware driver and the preview harness.
package effects

import (
	"slices"
	"strings"
	"sync"

	"github.com/coreman2200/pixdriver/internal/pixel"
)

// Raw leaves the pixel buffer to an external writer.
const Raw = "RAW"

// Func renders one tick of an effect into f.Pixels.
type Func func(f *Frame)

// Effect is a registry entry.
type Effect struct {
	ID     string
	Name   string
	Render Func
	// NewScratch allocates the State.Scratch payload on effect entry.
	NewScratch func() any
}

// Info is the public description of a registered effect.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frame is everything an effect sees for one tick.
type Frame struct {
	Config *Config
	Pixels []pixel.Color
	State  *State
	Tick   uint32
	// Interval is the speed derived tick interval before any per-effect divisor.
	Interval uint32
	Rand     Random
}

// Due reports whether interval/div ticks have passed since the last advance,
// and if so records this tick as the new advance point.
func (f *Frame) Due(div uint32) bool {
	if f.Tick-f.State.LastUpdate < f.Interval/div {
		return false
	}
	f.State.LastUpdate = f.Tick
	return true
}

func (f *Frame) Fill(c pixel.Color) {
	for i := range f.Pixels {
		f.Pixels[i] = c
	}
}

// Interval maps speed 1..10 to a tick count at the given update rate.
// Speed 10 is the fastest.
func Interval(rateHz uint32, speed uint8) uint32 {
	return (rateHz / 10) * uint32(11-ClampSpeed(speed))
}

// Normalize is the registry key for an effect identifier.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Engine maps effect identifiers to renderers and keeps per-channel state.
type Engine struct {
	mu      sync.RWMutex
	rate    uint32
	effects map[string]Effect
	order   []string
	states  map[int]*State
	rand    Random
}

// NewEngine returns an engine with every built-in effect registered. A nil
// source selects Entropy.
func NewEngine(rateHz uint32, r Random) *Engine {
	if r == nil {
		r = NewEntropy()
	}
	e := &Engine{
		rate:    rateHz,
		effects: map[string]Effect{},
		states:  map[int]*State{},
		rand:    r,
	}
	for _, fx := range Builtins() {
		e.Register(fx)
	}
	return e
}

// Register adds or replaces an effect. Entries without an id or renderer are ignored.
func (e *Engine) Register(fx Effect) {
	id := Normalize(fx.ID)
	if id == "" || id == Raw || fx.Render == nil {
		return
	}
	fx.ID = id
	if fx.Name == "" {
		fx.Name = fx.ID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.effects[id]; !ok {
		e.order = append(e.order, id)
	}
	e.effects[id] = fx
}

// RegisterFunc registers a stateless frame generator.
func (e *Engine) RegisterFunc(id, name string, fn Func) {
	e.Register(Effect{ID: id, Name: name, Render: fn})
}

func (e *Engine) Unregister(id string) bool {
	id = Normalize(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.effects[id]; !ok {
		return false
	}
	delete(e.effects, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	return true
}

// Lookup finds an effect by case-insensitive id.
func (e *Engine) Lookup(id string) (Effect, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fx, ok := e.effects[Normalize(id)]
	return fx, ok
}

// Effects lists registered effects in registration order.
func (e *Engine) Effects() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Info, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, Info{ID: id, Name: e.effects[id].Name})
	}
	return out
}

func (e *Engine) Rate() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rate
}

// SetRate changes the update rate used for speed intervals.
func (e *Engine) SetRate(rateHz uint32) {
	e.mu.Lock()
	e.rate = rateHz
	e.mu.Unlock()
}

// Interval is the tick interval for speed at the engine's rate.
func (e *Engine) Interval(speed uint8) uint32 {
	return Interval(e.Rate(), speed)
}

// Update renders one tick of cfg's effect into buf using the state kept for
// channel id. Unknown effects fall back to a solid fill; RAW does nothing.
func (e *Engine) Update(id int, cfg *Config, buf []pixel.Color, tick uint32) {
	if cfg == nil {
		return
	}
	key := Normalize(cfg.Effect)
	if key == Raw {
		return
	}

	e.mu.Lock()
	fx, ok := e.effects[key]
	if !ok {
		fx, key = Effect{ID: Solid, Name: "Solid", Render: solid}, Solid
	}
	st := e.states[id]
	if st == nil || st.Effect != key {
		st = newState(key, fx)
		e.states[id] = st
	}
	rate := e.rate
	e.mu.Unlock()

	if len(buf) == 0 || fx.Render == nil {
		return
	}
	fx.Render(&Frame{
		Config:   cfg,
		Pixels:   buf,
		State:    st,
		Tick:     tick,
		Interval: Interval(rate, cfg.Speed),
		Rand:     e.rand,
	})
}

// State returns a copy of the animation state for channel id.
func (e *Engine) State(id int) (State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Forget drops the state of channel id. The next Update starts over.
func (e *Engine) Forget(id int) {
	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
}
