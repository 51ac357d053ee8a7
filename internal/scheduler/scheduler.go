// Package scheduler applies channel commands on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

// AllChannels targets every channel.
const AllChannels = -1

// Channels is the part of the driver the scheduler needs.
type Channels interface {
	Channel(id int) *led.Channel
	Channels() []*led.Channel
}

// Command is one parsed action.
type Command struct {
	Op    string // enabled, effect, brightness, speed, color
	Str   string
	Num   uint8
	On    bool
	Color pixel.Color
}

// Parse accepts "on", "off", "enabled on|off", "effect NAME",
// "brightness N", "speed N" and "color #RRGGBB".
func Parse(s string) (Command, error) {
	parts := strings.Fields(strings.ToLower(s))
	if len(parts) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	op := parts[0]
	switch op {
	case "on", "off":
		return Command{Op: "enabled", On: op == "on"}, nil
	}
	if len(parts) != 2 {
		return Command{}, fmt.Errorf("command %q: want %q followed by one argument", s, op)
	}
	arg := parts[1]
	switch op {
	case "enabled", "power":
		switch arg {
		case "on", "true", "1":
			return Command{Op: "enabled", On: true}, nil
		case "off", "false", "0":
			return Command{Op: "enabled"}, nil
		}
		return Command{}, fmt.Errorf("command %q: want on or off", s)
	case "effect":
		return Command{Op: op, Str: effects.Normalize(arg)}, nil
	case "brightness", "speed":
		n, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return Command{}, fmt.Errorf("command %q: %w", s, err)
		}
		return Command{Op: op, Num: uint8(n)}, nil
	case "color":
		c, err := pixel.ParseHex(arg)
		if err != nil {
			return Command{}, fmt.Errorf("command %q: %w", s, err)
		}
		return Command{Op: op, Color: c}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", op)
}

// Apply performs the command on ch.
func (c Command) Apply(ch *led.Channel) {
	switch c.Op {
	case "enabled":
		ch.SetEnabled(c.On)
	case "effect":
		ch.SetEffectID(c.Str)
	case "brightness":
		ch.SetBrightness(c.Num)
	case "speed":
		ch.SetSpeed(c.Num)
	case "color":
		ch.SetColor(c.Color)
	}
}

type Entry struct {
	ID      cron.EntryID `json:"id"`
	Spec    string       `json:"spec"`
	Command string       `json:"command"`
	Channel int          `json:"channel"`
}

type Scheduler struct {
	cron   *cron.Cron
	target Channels

	mu      sync.RWMutex
	entries map[cron.EntryID]Entry
}

// Specs take an optional leading seconds field and descriptors like @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(target Channels) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		target:  target,
		entries: map[cron.EntryID]Entry{},
	}
}

// Add schedules command on channel (AllChannels for every channel).
func (s *Scheduler) Add(spec, command string, channel int) (cron.EntryID, error) {
	cmd, err := Parse(command)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Entry{Spec: spec, Command: command, Channel: channel}
	id, err := s.cron.AddFunc(spec, func() { s.run(e, cmd) })
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	e.ID = id
	s.entries[id] = e
	log.Info().Int("id", int(id)).Str("spec", spec).Str("command", command).Int("channel", channel).Msg("added schedule")
	return id, nil
}

func (s *Scheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
	delete(s.entries, id)
}

// Entries lists schedules in id order.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute runs a command immediately, outside of any schedule.
func (s *Scheduler) Execute(command string, channel int) error {
	cmd, err := Parse(command)
	if err != nil {
		return err
	}
	return s.apply(cmd, channel)
}

func (s *Scheduler) run(e Entry, cmd Command) {
	log.Info().Str("command", e.Command).Int("channel", e.Channel).Msg("running scheduled command")
	if err := s.apply(cmd, e.Channel); err != nil {
		log.Warn().Err(err).Str("spec", e.Spec).Msg("scheduled command")
	}
}

func (s *Scheduler) apply(cmd Command, channel int) error {
	if channel < 0 {
		for _, ch := range s.target.Channels() {
			cmd.Apply(ch)
		}
		return nil
	}
	ch := s.target.Channel(channel)
	if ch == nil {
		return fmt.Errorf("channel %d not found", channel)
	}
	cmd.Apply(ch)
	return nil
}

// Run starts the cron ticker and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	log.Info().Int("entries", len(s.Entries())).Msg("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}
