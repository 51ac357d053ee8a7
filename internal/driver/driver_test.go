package driver

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
	"github.com/coreman2200/pixdriver/internal/protocol"
	"github.com/coreman2200/pixdriver/internal/store"
)

func newDriver(t *testing.T, opts ...Option) (*Driver, *led.Sim) {
	t.Helper()
	sim := led.NewSim()
	opts = append([]Option{WithRandom(effects.NewXorShift32(effects.DefaultSeed))}, opts...)
	d := New(sim, opts...)
	d.Initialize(60)
	t.Cleanup(d.Shutdown)
	return d, sim
}

func TestAddChannelNotInitialized(t *testing.T) {
	d := New(led.NewSim())
	assert.Equal(t, -1, d.AddChannel(led.Config{Pin: "p0", Pixels: 1}))
	assert.ErrorIs(t, d.Start(), ErrNotInitialized)
	assert.Nil(t, d.MainChannel())
}

func TestInitializeIdempotent(t *testing.T) {
	d, _ := newDriver(t)
	e := d.Engine()
	d.Initialize(30)
	assert.Same(t, e, d.Engine())
	assert.Equal(t, uint32(60), d.UpdateRate())
}

func TestChannelIDsAndMain(t *testing.T) {
	d, sim := newDriver(t)
	sim.FailOpen = map[string]error{"bad": errors.New("busy")}

	a := d.AddChannel(led.Config{Pin: "p0", Pixels: 4})
	b := d.AddChannel(led.Config{Pin: "bad", Pixels: 4})
	c := d.AddChannel(led.Config{Pin: "p2", Pixels: 4})
	e := d.AddChannel(led.Config{Pin: "p3", Pixels: 4})
	assert.Equal(t, 0, a)
	assert.Equal(t, -1, b)
	assert.Equal(t, 2, c, "failed attempt still consumes an id")
	assert.Equal(t, 3, e)
	assert.Equal(t, []int{0, 2, 3}, d.ChannelIDs())
	assert.Equal(t, a, d.MainChannelID())

	require.True(t, d.RemoveChannel(a))
	assert.Equal(t, c, d.MainChannelID(), "lowest remaining id becomes main")
	assert.False(t, d.RemoveChannel(a))
	assert.True(t, sim.Device("p0").Closed())

	ch, err := d.ChannelAt(1)
	require.NoError(t, err)
	assert.Equal(t, e, ch.ID())
	_, err = d.ChannelAt(2)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	require.True(t, d.RemoveChannel(c))
	require.True(t, d.RemoveChannel(e))
	assert.Equal(t, -1, d.MainChannelID())
	assert.Nil(t, d.MainChannel())

	next := d.AddChannel(led.Config{Pin: "p4", Pixels: 1})
	assert.Equal(t, 4, next, "ids are not reused")
	assert.Equal(t, next, d.MainChannelID())
}

func TestScale(t *testing.T) {
	assert.Equal(t, float32(1), Scale(100000, Unlimited))
	assert.Equal(t, float32(1), Scale(100000, 0))
	assert.Equal(t, float32(1), Scale(600, 1000))
	assert.Equal(t, float32(0), Scale(1, 300))
	assert.Equal(t, float32(0), Scale(1, 400))
	assert.Equal(t, float32(1), Scale(0, 400))
	assert.InDelta(t, 1.0/6.0, Scale(3600, 1000), 1e-6)

	for total := uint32(1); total < 20000; total += 97 {
		for _, limit := range []int32{401, 500, 1000, 2500, 8000} {
			s := Scale(total, limit)
			require.True(t, s >= 0 && s <= 1)
			require.LessOrEqual(t, float32(total)*s, float32(limit-SystemReserve)+0.01)
		}
	}
}

func TestCurrentLimitScenario(t *testing.T) {
	d, sim := newDriver(t)
	id := d.AddChannel(led.Config{Pin: "p0", Pixels: 60})
	require.Equal(t, 0, id)
	ch := d.Channel(id)
	ch.SetColor(pixel.Color{R: 255, G: 255, B: 255})
	d.SetCurrentLimit(1000)

	d.Step()
	assert.Equal(t, uint32(3600), d.TotalCurrent())
	assert.InDelta(t, 1.0/6.0, d.LastScale(), 1e-6)
	assert.InDelta(t, 1.0/6.0, d.ScaleFactor(), 1e-6)
	assert.Equal(t, uint32(600), d.ScaledCurrent())
	for _, p := range ch.Snapshot() {
		require.Equal(t, pixel.Color{R: 42, G: 42, B: 42}, p)
	}
	assert.LessOrEqual(t, ch.ScaledConsumption(), uint32(600))

	want := protocol.Encode(nil, ch.Snapshot(), pixel.RGB, nil)
	require.Eventually(t, func() bool { return sim.Device("p0").Frames() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, want, sim.Device("p0").Last())
	assert.Equal(t, uint32(1), d.Tick())

	d.SetCurrentLimit(Unlimited)
	d.Step()
	assert.Equal(t, float32(1), d.LastScale())
	assert.Equal(t, pixel.Color{R: 255, G: 255, B: 255}, ch.Snapshot()[0])
}

func TestCurrentLimitTwoChannels(t *testing.T) {
	d, _ := newDriver(t)
	a := d.Channel(d.AddChannel(led.Config{Pin: "p0", Pixels: 30}))
	b := d.Channel(d.AddChannel(led.Config{Pin: "p1", Pixels: 30}))
	d.SetAllColor(pixel.Color{R: 255, G: 255, B: 255})
	d.SetCurrentLimit(1000)

	d.Step()
	assert.Equal(t, uint32(3600), d.TotalCurrent())
	assert.InDelta(t, 600.0/3600.0, d.LastScale(), 1e-6)
	for _, ch := range []*led.Channel{a, b} {
		for _, p := range ch.Snapshot() {
			require.Equal(t, pixel.Color{R: 42, G: 42, B: 42}, p)
		}
	}
	assert.LessOrEqual(t, d.SentCurrent(), uint32(600))
}

func TestLimitDimFrame(t *testing.T) {
	d, _ := newDriver(t)
	ch := d.Channel(d.AddChannel(led.Config{Pin: "p0", Pixels: 100}))
	ch.SetColor(pixel.Color{R: 25, G: 25, B: 25})
	d.SetCurrentLimit(640)

	d.Step()
	// 100*75*20/255
	assert.Equal(t, uint32(588), d.TotalCurrent())
	assert.LessOrEqual(t, d.SentCurrent(), uint32(240))
}

func TestLimitHoldsForRandomFrames(t *testing.T) {
	rng := effects.NewXorShift32(7)
	next := func(n uint32) uint32 { return rng.Uint32() % n }

	for trial := 0; trial < 100; trial++ {
		d := New(led.NewSim(), WithRandom(effects.NewXorShift32(effects.DefaultSeed)))
		d.Initialize(60)

		for c := uint32(0); c < 1+next(3); c++ {
			f := pixel.RGB
			if next(2) == 1 {
				f = pixel.RGBW
			}
			n := 1 + int(next(80))
			ch := d.Channel(d.AddChannel(led.Config{Pin: fmt.Sprintf("p%d", c), Pixels: n, Format: f}))
			require.NotNil(t, ch)
			ch.SetEffectID(effects.Raw)
			ch.SetBrightness(uint8(next(256)))
			px := make([]pixel.Color, n)
			for i := range px {
				v := rng.Uint32()
				px[i] = pixel.Color{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), W: uint8(v >> 24)}
			}
			ch.SetPixels(px)
		}
		limit := int32(1 + next(6000))
		d.SetCurrentLimit(limit)
		d.Step()

		avail := max(int64(limit)-SystemReserve, 0)
		s := d.LastScale()
		require.True(t, s >= 0 && s <= 1, "trial %d: scale %v", trial, s)
		require.LessOrEqual(t, int64(d.SentCurrent()), avail+1,
			"trial %d: limit %d total %d scale %v", trial, limit, d.TotalCurrent(), s)
		d.Shutdown()
	}
}

func TestLimitAcrossChannels(t *testing.T) {
	d, _ := newDriver(t)
	a := d.Channel(d.AddChannel(led.Config{Pin: "p0", Pixels: 10}))
	b := d.Channel(d.AddChannel(led.Config{Pin: "p1", Pixels: 10, Format: pixel.RGBW}))
	d.SetAllColor(pixel.Color{R: 255, G: 255, B: 255, W: 255})
	d.SetCurrentLimit(1400)

	d.Step()
	// 10*60 + 10*80
	assert.Equal(t, uint32(1400), d.TotalCurrent())
	assert.InDelta(t, 1000.0/1400.0, d.LastScale(), 1e-6)
	assert.LessOrEqual(t, a.ScaledConsumption()+b.ScaledConsumption(), uint32(1000))
}

func TestDisabledChannelBlank(t *testing.T) {
	d, sim := newDriver(t)
	ch := d.Channel(d.AddChannel(led.Config{Pin: "p0", Pixels: 3}))
	d.SetAllEnabled(false)
	d.Step()
	assert.Equal(t, make([]pixel.Color, 3), ch.Snapshot())
	require.Eventually(t, func() bool { return sim.Device("p0").Frames() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, protocol.Encode(nil, make([]pixel.Color, 3), pixel.RGB, nil), sim.Device("p0").Last())
}

func TestSetAll(t *testing.T) {
	d, _ := newDriver(t)
	d.AddChannel(led.Config{Pin: "p0", Pixels: 3})
	d.AddChannel(led.Config{Pin: "p1", Pixels: 3})
	d.SetAllEffect(effects.Rainbow)
	d.SetAllBrightness(10)
	d.SetAllSpeed(42)
	for _, ch := range d.Channels() {
		cfg := ch.Effect()
		assert.Equal(t, effects.Rainbow, cfg.Effect)
		assert.Equal(t, uint8(10), cfg.Brightness)
		assert.Equal(t, uint8(10), cfg.Speed)
	}
}

func TestStoreLoadAndSave(t *testing.T) {
	mem := store.NewMemory()
	fx := effects.Fire
	on := false
	require.NoError(t, mem.Save(0, effects.Settings{Effect: &fx, Enabled: &on}))

	d, _ := newDriver(t, WithStore(mem))
	id := d.AddChannel(led.Config{Pin: "p0", Pixels: 3})
	cfg := d.Channel(id).Effect()
	assert.Equal(t, effects.Fire, cfg.Effect)
	assert.False(t, cfg.Enabled)

	d.Channel(id).SetBrightness(5)
	require.NoError(t, d.SaveChannel(id))
	got, ok, err := mem.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(5), *got.Brightness)

	assert.ErrorIs(t, d.SaveChannel(99), ErrUnknownChannel)
}

func TestStartStop(t *testing.T) {
	d, sim := newDriver(t)
	d.SetUpdateRate(200)
	assert.Equal(t, uint32(200), d.Engine().Rate())
	d.AddChannel(led.Config{Pin: "p0", Pixels: 8})

	ticks := make(chan uint32, 64)
	d.OnTick(func(tick uint32) {
		select {
		case ticks <- tick:
		default:
		}
	})

	require.NoError(t, d.Start())
	require.NoError(t, d.Start())
	assert.True(t, d.Running())
	require.Eventually(t, func() bool { return d.Tick() >= 10 }, 2*time.Second, time.Millisecond)
	d.Stop()
	assert.False(t, d.Running())

	stopped := d.Tick()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, d.Tick(), "no ticks after Stop")
	assert.Equal(t, uint32(0), <-ticks)
	assert.Positive(t, sim.Device("p0").Frames())
}

func TestShutdown(t *testing.T) {
	d, sim := newDriver(t)
	d.AddChannel(led.Config{Pin: "p0", Pixels: 2})
	require.NoError(t, d.Start())
	d.Shutdown()
	assert.False(t, d.Initialized())
	assert.False(t, d.Running())
	assert.Empty(t, d.ChannelIDs())
	assert.True(t, sim.Device("p0").Closed())
	assert.Equal(t, -1, d.AddChannel(led.Config{Pin: "p1", Pixels: 2}))
}
