package effects

import "github.com/coreman2200/pixdriver/internal/pixel"

const (
	MinSpeed = 1
	MaxSpeed = 10
)

// CustomFunc fills buf for the CUSTOM effect.
type CustomFunc func(buf []pixel.Color, tick uint32)

// Config holds the animation parameters of one channel.
type Config struct {
	Effect     string
	Color      pixel.Color
	Brightness uint8
	Speed      uint8
	Enabled    bool
	// Mask hides pixels on the wire when an entry is false.
	Mask   []bool
	Custom CustomFunc
}

func DefaultConfig() Config {
	return Config{
		Effect:     Solid,
		Color:      pixel.Color{R: 100, G: 100, B: 100},
		Brightness: 255,
		Speed:      5,
		Enabled:    true,
	}
}

// Clone returns a copy that shares nothing mutable with c.
func (c Config) Clone() Config {
	if c.Mask != nil {
		c.Mask = append([]bool(nil), c.Mask...)
	}
	return c
}

func ClampSpeed(s uint8) uint8 {
	return min(max(s, MinSpeed), MaxSpeed)
}

// Settings is the persisted and remotely editable subset of Config. Nil
// fields are left untouched by Apply.
type Settings struct {
	Effect     *string      `yaml:"effect,omitempty" json:"effect_id,omitempty"`
	Color      *pixel.Color `yaml:"color,omitempty" json:"color,omitempty"`
	Brightness *uint8       `yaml:"brightness,omitempty" json:"brightness,omitempty"`
	Speed      *uint8       `yaml:"speed,omitempty" json:"speed,omitempty"`
	Enabled    *bool        `yaml:"enabled,omitempty" json:"on,omitempty"`
}

func (s Settings) Apply(c *Config) {
	if s.Effect != nil {
		c.Effect = *s.Effect
	}
	if s.Color != nil {
		c.Color = *s.Color
	}
	if s.Brightness != nil {
		c.Brightness = *s.Brightness
	}
	if s.Speed != nil {
		c.Speed = ClampSpeed(*s.Speed)
	}
	if s.Enabled != nil {
		c.Enabled = *s.Enabled
	}
}

// Empty reports whether no field is set.
func (s Settings) Empty() bool {
	return s.Effect == nil && s.Color == nil && s.Brightness == nil && s.Speed == nil && s.Enabled == nil
}

func SettingsOf(c Config) Settings {
	return Settings{
		Effect:     &c.Effect,
		Color:      &c.Color,
		Brightness: &c.Brightness,
		Speed:      &c.Speed,
		Enabled:    &c.Enabled,
	}
}
