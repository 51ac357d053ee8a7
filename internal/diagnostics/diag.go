// Package diagnostics checks a channel layout for wiring and budget
// problems before the driver starts.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
	"github.com/coreman2200/pixdriver/internal/protocol"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Input is what the checks look at.
type Input struct {
	Channels     []led.Config
	UpdateRateHz uint32
	// CurrentLimitMA of zero or less means unlimited.
	CurrentLimitMA int32
	// ReserveMA is the controller's own draw taken off the limit.
	ReserveMA int32
}

// Check runs every check and returns the findings in a stable order.
func Check(in Input) []Diagnostic {
	var out []Diagnostic
	out = append(out, emptyChannels(in)...)
	out = append(out, duplicatePins(in)...)
	out = append(out, budget(in)...)
	out = append(out, frameTime(in)...)
	return out
}

func emptyChannels(in Input) []Diagnostic {
	var out []Diagnostic
	for i, c := range in.Channels {
		if c.Pixels > 0 {
			continue
		}
		out = append(out, Diagnostic{
			Severity:       Err,
			Code:           "CHANNEL.EMPTY",
			Summary:        fmt.Sprintf("Channel %d (%s) has no pixels", i, c.Name),
			SuggestedFixes: []string{"Set pixels to the strip length"},
			Evidence:       map[string]any{"index": i, "pixels": c.Pixels},
		})
	}
	return out
}

func duplicatePins(in Input) []Diagnostic {
	var out []Diagnostic
	seen := map[string]int{}
	for i, c := range in.Channels {
		if c.Pin == "" {
			continue
		}
		if j, ok := seen[c.Pin]; ok {
			out = append(out, Diagnostic{
				Severity:     Err,
				Code:         "PIN.DUPLICATE",
				Summary:      fmt.Sprintf("Channels %d and %d share pin %s", j, i, c.Pin),
				LikelyCauses: []string{"Copy-pasted channel entry"},
				Evidence:     map[string]any{"pin": c.Pin, "first": j, "second": i},
			})
			continue
		}
		seen[c.Pin] = i
	}
	return out
}

// WorstCaseCurrent is the draw in mA with every component at full scale.
func WorstCaseCurrent(c led.Config) uint32 {
	f := c.Format
	if f == 0 {
		f = pixel.RGB
	}
	return uint32(max(c.Pixels, 0)) * uint32(f.BytesPerPixel()) * led.ComponentCurrent
}

func budget(in Input) []Diagnostic {
	var total uint32
	for _, c := range in.Channels {
		total += WorstCaseCurrent(c)
	}
	ev := map[string]any{"worst_case_ma": total, "limit_ma": in.CurrentLimitMA}
	if in.CurrentLimitMA <= 0 {
		return []Diagnostic{{
			Severity: Info,
			Code:     "POWER.UNLIMITED",
			Summary:  fmt.Sprintf("Current limiting is off; full white draws %d mA", total),
			Evidence: ev,
		}}
	}
	avail := int64(in.CurrentLimitMA) - int64(in.ReserveMA)
	if avail <= 0 {
		return []Diagnostic{{
			Severity:       Err,
			Code:           "POWER.NO_BUDGET",
			Summary:        "Current limit does not cover the controller reserve; strips will stay dark",
			SuggestedFixes: []string{fmt.Sprintf("Raise current_limit_ma above %d", in.ReserveMA)},
			Evidence:       ev,
		}}
	}
	if int64(total) <= avail {
		return nil
	}
	ev["scale"] = float64(avail) / float64(total)
	return []Diagnostic{{
		Severity:     Warn,
		Code:         "POWER.LIMITED",
		Summary:      fmt.Sprintf("Full white needs %d mA but only %d mA is available; bright frames will be dimmed", total, avail),
		LikelyCauses: []string{"Supply smaller than the strips' worst case"},
		Evidence:     ev,
	}}
}

// TransmitTime is how long one frame of c takes on the wire.
func TransmitTime(c led.Config) time.Duration {
	f := c.Format
	if f == 0 {
		f = pixel.RGB
	}
	clock := c.ClockRate
	if clock <= 0 {
		clock = led.DefaultClock
	}
	bits := int64(protocol.BufferSize(max(c.Pixels, 0), f)) * 8
	return time.Duration(bits) * clock.Period()
}

func frameTime(in Input) []Diagnostic {
	if in.UpdateRateHz == 0 || len(in.Channels) == 0 {
		return nil
	}
	period := time.Second / time.Duration(in.UpdateRateHz)
	var worst time.Duration
	idx := 0
	for i, c := range in.Channels {
		if d := TransmitTime(c); d > worst {
			worst, idx = d, i
		}
	}
	if worst < period {
		return nil
	}
	return []Diagnostic{{
		Severity:       Err,
		Code:           "TIMING.OVERRUN",
		Summary:        fmt.Sprintf("Channel %d needs %s per frame but the update period is %s", idx, worst, period),
		SuggestedFixes: []string{"Lower update_rate_hz", "Split the strip across channels"},
		Evidence:       map[string]any{"transmit": worst.String(), "period": period.String(), "channel": idx},
	}}
}

// Worst is the highest severity present, or Info when there are none.
func Worst(ds []Diagnostic) Severity {
	s := Info
	for _, d := range ds {
		switch {
		case d.Severity == Err:
			return Err
		case d.Severity == Warn:
			s = Warn
		}
	}
	return s
}

// Log writes each finding at a level matching its severity.
func Log(ds []Diagnostic) {
	for _, d := range ds {
		lvl := zerolog.InfoLevel
		switch d.Severity {
		case Warn:
			lvl = zerolog.WarnLevel
		case Err:
			lvl = zerolog.ErrorLevel
		}
		ev := log.WithLevel(lvl).Str("code", d.Code)
		if len(d.Evidence) > 0 {
			ev = ev.Fields(d.Evidence)
		}
		ev.Msg(d.Summary)
	}
}
