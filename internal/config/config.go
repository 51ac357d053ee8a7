// Package config loads the daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

type HTTP struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per second per client; RateBurst the bucket size.
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type Channel struct {
	Name    string       `yaml:"name"`
	Pin     string       `yaml:"pin"`
	Pixels  int          `yaml:"pixels"`
	Format  pixel.Format `yaml:"format"`
	ClockHz int64        `yaml:"clock_hz"`
}

// LED converts to the channel hardware description.
func (c Channel) LED() led.Config {
	return led.Config{
		Name:      c.Name,
		Pin:       c.Pin,
		Pixels:    c.Pixels,
		Format:    c.Format,
		ClockRate: physic.Frequency(c.ClockHz) * physic.Hertz,
	}
}

type Schedule struct {
	Spec    string `yaml:"spec"` // cron expression, seconds optional
	Command string `yaml:"command"`
	// Channel is a channel id. Unset or -1 targets every channel.
	Channel *int `yaml:"channel,omitempty"`
}

type Config struct {
	Driver       string `yaml:"driver"` // "spi" | "sim"
	UpdateRateHz uint32 `yaml:"update_rate_hz"`

	// CurrentLimitMA of zero or less disables current limiting.
	CurrentLimitMA int32         `yaml:"current_limit_ma"`
	StorePath      string        `yaml:"store_path"`
	ScriptsDir     string        `yaml:"scripts_dir"`
	SimDelay       time.Duration `yaml:"sim_delay"`

	HTTP      HTTP       `yaml:"http"`
	Channels  []Channel  `yaml:"channels"`
	Schedules []Schedule `yaml:"schedules"`
}

// Default is used when no config file exists.
func Default() *Config {
	c := &Config{CurrentLimitMA: -1}
	c.setDefaults()
	return c
}

// Load reads path. A missing file yields Default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c := &Config{CurrentLimitMA: -1}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.sanitize()
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c as YAML.
func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Config) sanitize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.StorePath = strings.TrimSpace(c.StorePath)
	c.ScriptsDir = strings.TrimSpace(c.ScriptsDir)
	for i := range c.Channels {
		c.Channels[i].Pin = strings.TrimSpace(c.Channels[i].Pin)
	}
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = "spi"
	}
	if c.UpdateRateHz == 0 {
		c.UpdateRateHz = 60
	}
	if c.StorePath == "" {
		c.StorePath = "pixdriver-state.yaml"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "effects"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 20
	}
	if c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = 40
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("channel%d", i)
		}
		if ch.Format == 0 {
			ch.Format = pixel.RGB
		}
		if ch.ClockHz == 0 {
			ch.ClockHz = int64(led.DefaultClock / physic.Hertz)
		}
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case "spi", "sim":
	default:
		return fmt.Errorf("config: unknown driver %q (want spi or sim)", c.Driver)
	}
	if c.UpdateRateHz > 1000 {
		return fmt.Errorf("config: update_rate_hz %d is above 1000", c.UpdateRateHz)
	}
	for i, ch := range c.Channels {
		if ch.Pixels <= 0 {
			return fmt.Errorf("config: channel %d (%s): pixels must be positive", i, ch.Name)
		}
		if ch.ClockHz < 0 {
			return fmt.Errorf("config: channel %d (%s): negative clock_hz", i, ch.Name)
		}
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Spec) == "" || strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("config: schedule %d needs spec and command", i)
		}
	}
	return nil
}
