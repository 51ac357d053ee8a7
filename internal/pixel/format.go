package pixel

import (
	"fmt"
	"strings"
)

// Format is the number of color components a strip expects per pixel.
type Format uint8

const (
	RGB  Format = 3
	RGBW Format = 4
)

func (f Format) String() string {
	switch f {
	case RGB:
		return "RGB"
	case RGBW:
		return "RGBW"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// BytesPerPixel is the number of color bytes per pixel on the wire.
func (f Format) BytesPerPixel() int {
	if f == RGBW {
		return 4
	}
	return 3
}

// ParseFormat is case-insensitive. An empty string means RGB.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "RGB", "GRB":
		return RGB, nil
	case "RGBW", "GRBW":
		return RGBW, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
