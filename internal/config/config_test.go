package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

const sample = `
driver: SIM
update_rate_hz: 100
current_limit_ma: 2000
sim_delay: 2ms
http:
  addr: 127.0.0.1:9000
channels:
  - name: desk
    pin: SPI0.0
    pixels: 60
  - pin: " SPI1.0 "
    pixels: 30
    format: grbw
    clock_hz: 3200000
schedules:
  - spec: "0 22 * * *"
    command: "off"
  - spec: "@every 1m"
    command: "effect RAINBOW"
    channel: 1
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "sim", c.Driver)
	assert.Equal(t, uint32(100), c.UpdateRateHz)
	assert.Equal(t, int32(2000), c.CurrentLimitMA)
	assert.Equal(t, 2*time.Millisecond, c.SimDelay)
	assert.Equal(t, "127.0.0.1:9000", c.HTTP.Addr)
	assert.Equal(t, float64(20), c.HTTP.RateLimit)
	assert.Equal(t, 40, c.HTTP.RateBurst)

	require.Len(t, c.Channels, 2)
	assert.Equal(t, pixel.RGB, c.Channels[0].Format)
	assert.Equal(t, "channel1", c.Channels[1].Name)
	assert.Equal(t, "SPI1.0", c.Channels[1].Pin)
	assert.Equal(t, pixel.RGBW, c.Channels[1].Format)

	l := c.Channels[0].LED()
	assert.Equal(t, led.DefaultClock, l.ClockRate)
	assert.Equal(t, 3200*physic.KiloHertz, c.Channels[1].LED().ClockRate)

	require.Len(t, c.Schedules, 2)
	assert.Nil(t, c.Schedules[0].Channel)
	require.NotNil(t, c.Schedules[1].Channel)
	assert.Equal(t, 1, *c.Schedules[1].Channel)
}

func TestDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "spi", c.Driver)
	assert.Equal(t, uint32(60), c.UpdateRateHz)
	assert.Equal(t, int32(-1), c.CurrentLimitMA, "unlimited unless configured")
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Empty(t, c.Channels)

	c, err = Parse([]byte("channels: []"))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), c.CurrentLimitMA)
}

func TestValidate(t *testing.T) {
	for name, doc := range map[string]string{
		"driver":   "driver: pwm",
		"pixels":   "channels: [{pin: a, pixels: 0}]",
		"format":   "channels: [{pin: a, pixels: 1, format: rgbx}]",
		"schedule": "schedules: [{spec: '@hourly'}]",
		"rate":     "update_rate_hz: 5000",
		"yaml":     "channels: {",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixdriver.yaml")
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, Save(path, c))

	_, err = os.Stat(path)
	require.NoError(t, err)
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
