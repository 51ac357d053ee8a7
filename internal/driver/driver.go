// Package driver owns the channel set and runs the fixed-rate loop that
// animates, current-limits, and transmits every channel.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/store"
)

const (
	DefaultRate = 60
	// SystemReserve is subtracted from the current limit for the controller itself.
	SystemReserve = 400
	Unlimited     = -1
)

var (
	ErrNotInitialized = errors.New("driver not initialized")
	ErrUnknownChannel = errors.New("unknown channel")
)

// TickFunc observes the driver after each tick.
type TickFunc func(tick uint32)

type Option func(*Driver)

// WithStore loads settings for new channels from s and enables SaveChannel.
func WithStore(s store.Store) Option { return func(d *Driver) { d.store = s } }

// WithRandom sets the effects' random source, e.g. a seeded one in tests.
func WithRandom(r effects.Random) Option { return func(d *Driver) { d.rand = r } }

// Driver is the orchestrator. Create one per process and pass it around.
type Driver struct {
	opener led.Opener
	store  store.Store
	rand   effects.Random

	mu          sync.RWMutex
	initialized bool
	engine      *effects.Engine
	channels    map[int]*led.Channel
	mainID      int
	nextID      int
	hooks       []TickFunc

	limit atomic.Int32
	rate  atomic.Uint32
	tick  atomic.Uint32
	scale atomic.Uint32 // float32 bits of the last applied scale

	stepMu  sync.Mutex
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an uninitialized driver that opens channel hardware with op.
func New(op led.Opener, opts ...Option) *Driver {
	d := &Driver{
		opener:   op,
		channels: map[int]*led.Channel{},
		mainID:   -1,
	}
	d.limit.Store(Unlimited)
	d.rate.Store(DefaultRate)
	d.scale.Store(floatBits(1))
	for _, o := range opts {
		o(d)
	}
	return d
}

// Initialize creates the effect engine. Calling it again is a no-op.
func (d *Driver) Initialize(rateHz uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return
	}
	if rateHz == 0 {
		rateHz = DefaultRate
	}
	d.rate.Store(rateHz)
	d.engine = effects.NewEngine(rateHz, d.rand)
	d.initialized = true
	log.Info().Uint32("rate_hz", rateHz).Msg("driver initialized")
}

func (d *Driver) Initialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized
}

// Shutdown stops the loop and tears down every channel.
func (d *Driver) Shutdown() {
	if !d.Initialized() {
		return
	}
	d.Stop()
	d.mu.Lock()
	chans := d.channels
	d.channels = map[int]*led.Channel{}
	d.mainID = -1
	d.engine = nil
	d.initialized = false
	d.mu.Unlock()

	for _, ch := range chans {
		if err := ch.Close(); err != nil {
			log.Warn().Err(err).Int("channel", ch.ID()).Msg("channel teardown")
		}
	}
	log.Info().Msg("driver shutdown")
}

// Engine is nil until Initialize.
func (d *Driver) Engine() *effects.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine
}

// AddChannel brings up a new channel and returns its id, or -1 if the driver
// is not initialized or the hardware could not be configured. Ids are never
// reused, including those consumed by failed attempts.
func (d *Driver) AddChannel(cfg led.Config) int {
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		log.Error().Err(ErrNotInitialized).Msg("add channel")
		return -1
	}
	id := d.nextID
	d.nextID++
	d.mu.Unlock()

	ch, err := led.New(id, cfg)
	if err == nil {
		err = ch.Initialize(d.opener)
	}
	if err != nil {
		log.Error().Err(err).Int("channel", id).Str("pin", cfg.Pin).Msg("failed to initialize channel")
		return -1
	}

	if d.store != nil {
		s, ok, err := d.store.Load(id)
		switch {
		case err != nil:
			log.Warn().Err(err).Int("channel", id).Msg("load persisted settings")
		case ok:
			ch.Apply(s)
		}
	}

	d.mu.Lock()
	d.channels[id] = ch
	if d.mainID < 0 {
		d.mainID = id
		log.Info().Int("channel", id).Msg("set main channel")
	}
	d.mu.Unlock()

	c := ch.Config()
	log.Info().Int("channel", id).Str("name", c.Name).Str("pin", c.Pin).Int("pixels", c.Pixels).
		Stringer("format", c.Format).Msg("added channel")
	return id
}

// RemoveChannel tears down a channel. If it was the main channel, the lowest
// remaining id takes over.
func (d *Driver) RemoveChannel(id int) bool {
	d.mu.Lock()
	ch, ok := d.channels[id]
	if !ok {
		d.mu.Unlock()
		log.Debug().Err(ErrUnknownChannel).Int("channel", id).Msg("remove channel")
		return false
	}
	delete(d.channels, id)
	if d.mainID == id {
		d.mainID = -1
		for _, other := range d.sortedIDs() {
			d.mainID = other
			log.Info().Int("channel", other).Msg("set main channel")
			break
		}
	}
	engine := d.engine
	d.mu.Unlock()

	// Wait for an in-progress tick so the channel is not transmitted after close.
	d.stepMu.Lock()
	err := ch.Close()
	d.stepMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Int("channel", id).Msg("channel teardown")
	}
	if engine != nil {
		engine.Forget(id)
	}
	log.Info().Int("channel", id).Msg("removed channel")
	return true
}

func (d *Driver) sortedIDs() []int {
	ids := make([]int, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Channel returns nil for an unknown id.
func (d *Driver) Channel(id int) *led.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels[id]
}

// MainChannel returns nil when there are no channels.
func (d *Driver) MainChannel() *led.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels[d.mainID]
}

func (d *Driver) MainChannelID() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mainID
}

func (d *Driver) ChannelIDs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedIDs()
}

// Channels lists channels in id order.
func (d *Driver) Channels() []*led.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*led.Channel, 0, len(d.channels))
	for _, id := range d.sortedIDs() {
		out = append(out, d.channels[id])
	}
	return out
}

// ChannelAt addresses channels by position in id order, as the HTTP API does.
func (d *Driver) ChannelAt(index int) (*led.Channel, error) {
	chans := d.Channels()
	if index < 0 || index >= len(chans) {
		return nil, fmt.Errorf("channel index %d: %w", index, ErrUnknownChannel)
	}
	return chans[index], nil
}

// SetCurrentLimit sets the budget in mA. Zero or negative disables limiting.
func (d *Driver) SetCurrentLimit(mA int32) { d.limit.Store(mA) }
func (d *Driver) CurrentLimit() int32      { return d.limit.Load() }

// SetUpdateRate changes the loop period and effect speed mapping. A running
// loop picks it up on its next tick.
func (d *Driver) SetUpdateRate(hz uint32) {
	if hz == 0 {
		return
	}
	d.rate.Store(hz)
	if e := d.Engine(); e != nil {
		e.SetRate(hz)
	}
}

func (d *Driver) UpdateRate() uint32 { return d.rate.Load() }

// Tick is the number of ticks run so far.
func (d *Driver) Tick() uint32 { return d.tick.Load() }

// OnTick registers fn to run on the loop goroutine after every tick.
func (d *Driver) OnTick(fn TickFunc) {
	d.mu.Lock()
	d.hooks = append(d.hooks, fn)
	d.mu.Unlock()
}

// SaveChannel persists a channel's effect settings.
func (d *Driver) SaveChannel(id int) error {
	ch := d.Channel(id)
	if ch == nil {
		return fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}
	if d.store == nil {
		return errors.New("no settings store configured")
	}
	return d.store.Save(id, effects.SettingsOf(ch.Effect()))
}
