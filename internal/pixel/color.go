package pixel

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	redOffset   = 16
	greenOffset = 8
	blueOffset  = 0
	whiteOffset = 24
)

// Color is one pixel value. W is ignored by RGB strips.
type Color struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
	W uint8 `json:"w" yaml:"w"`
}

var (
	Black   = Color{}
	White   = Color{255, 255, 255, 0}
	Red     = Color{R: 255}
	Green   = Color{G: 255}
	Blue    = Color{B: 255}
	Yellow  = Color{R: 255, G: 255}
	Cyan    = Color{G: 255, B: 255}
	Magenta = Color{R: 255, B: 255}
)

// FromRGB builds a color from a packed 0xRRGGBB value.
func FromRGB(v uint32) Color {
	return Color{
		R: uint8(v >> redOffset),
		G: uint8(v >> greenOffset),
		B: uint8(v >> blueOffset),
	}
}

// Uint32 packs the color as 0xWWRRGGBB.
func (c Color) Uint32() uint32 {
	return uint32(c.W)<<whiteOffset | uint32(c.R)<<redOffset | uint32(c.G)<<greenOffset | uint32(c.B)<<blueOffset
}

// FromHSV converts with 8-bit fixed point math across six hue regions.
func FromHSV(hue, sat, val uint8) Color {
	if sat == 0 {
		return Color{R: val, G: val, B: val}
	}
	region := hue / 43
	remainder := (hue - region*43) * 6

	v, s, r := uint32(val), uint32(sat), uint32(remainder)
	p := uint8((v * (255 - s)) >> 8)
	q := uint8((v * (255 - ((s * r) >> 8))) >> 8)
	t := uint8((v * (255 - ((s * (255 - r)) >> 8))) >> 8)

	switch region {
	case 0:
		return Color{R: val, G: t, B: p}
	case 1:
		return Color{R: q, G: val, B: p}
	case 2:
		return Color{R: p, G: val, B: t}
	case 3:
		return Color{R: p, G: q, B: val}
	case 4:
		return Color{R: t, G: p, B: val}
	default:
		return Color{R: val, G: p, B: q}
	}
}

// Scale multiplies every channel by brightness/255.
func (c Color) Scale(brightness uint8) Color {
	if brightness == 255 {
		return c
	}
	b := uint16(brightness)
	return Color{
		R: uint8(uint16(c.R) * b / 255),
		G: uint8(uint16(c.G) * b / 255),
		B: uint8(uint16(c.B) * b / 255),
		W: uint8(uint16(c.W) * b / 255),
	}
}

// Blend interpolates towards other; amount 0 keeps c, 255 yields other.
func (c Color) Blend(other Color, amount uint8) Color {
	a := uint16(amount)
	inv := 255 - a
	return Color{
		R: uint8((uint16(c.R)*inv + uint16(other.R)*a) / 255),
		G: uint8((uint16(c.G)*inv + uint16(other.G)*a) / 255),
		B: uint8((uint16(c.B)*inv + uint16(other.B)*a) / 255),
		W: uint8((uint16(c.W)*inv + uint16(other.W)*a) / 255),
	}
}

// Complement inverts RGB and drops white.
func (c Color) Complement() Color {
	return Color{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B}
}

// NRGBA is used for drawing frames on image based sinks.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// Hex formats the RGB part as #rrggbb.
func (c Color) Hex() string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

// ParseHex accepts #rgb, #rrggbb, or #rrggbbww. The leading # is optional.
func ParseHex(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	var w uint8
	if len(s) == 9 {
		if _, err := fmt.Sscanf(s[7:], "%02x", &w); err != nil {
			return Color{}, fmt.Errorf("parse white %q: %w", s, err)
		}
		s = s[:7]
	}
	cc, err := colorful.Hex(s)
	if err != nil {
		return Color{}, err
	}
	r, g, b := cc.RGB255()
	return Color{R: r, G: g, B: b, W: w}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", c.R, c.G, c.B, c.W)
}
