package effects

import "github.com/coreman2200/pixdriver/internal/pixel"

const (
	Solid         = "SOLID"
	Blink         = "BLINK"
	Breathe       = "BREATHE"
	Cyclic        = "CYCLIC"
	Rainbow       = "RAINBOW"
	ColorWipe     = "COLOR_WIPE"
	TheaterChase  = "THEATER_CHASE"
	Sparkle       = "SPARKLE"
	Comet         = "COMET"
	Fire          = "FIRE"
	Wave          = "WAVE"
	Twinkle       = "TWINKLE"
	Gradient      = "GRADIENT"
	Pulse         = "PULSE"
	Meteor        = "METEOR"
	RunningLights = "RUNNING_LIGHTS"
	Custom        = "CUSTOM"
)

// Builtins returns the standard effect library in display order.
func Builtins() []Effect {
	return []Effect{
		{ID: Solid, Name: "Solid", Render: solid},
		{ID: Blink, Name: "Blink", Render: blink},
		{ID: Breathe, Name: "Breathe", Render: breathe, NewScratch: func() any { return &BreatheState{Level: 128, Rising: true} }},
		{ID: Cyclic, Name: "Cyclic", Render: cyclic, NewScratch: newOffset},
		{ID: Rainbow, Name: "Rainbow", Render: rainbow, NewScratch: newOffset},
		{ID: ColorWipe, Name: "Color Wipe", Render: colorWipe, NewScratch: func() any { return &WipeState{} }},
		{ID: TheaterChase, Name: "Theater Chase", Render: theaterChase, NewScratch: newOffset},
		{ID: Sparkle, Name: "Sparkle", Render: sparkle},
		{ID: Comet, Name: "Comet", Render: comet, NewScratch: newComet},
		{ID: Fire, Name: "Fire", Render: fire, NewScratch: func() any { return &FireState{} }},
		{ID: Wave, Name: "Wave", Render: wave, NewScratch: func() any { return &WaveState{} }},
		{ID: Twinkle, Name: "Twinkle", Render: twinkle},
		{ID: Gradient, Name: "Gradient", Render: gradient},
		{ID: Pulse, Name: "Pulse", Render: pulse},
		{ID: Meteor, Name: "Meteor", Render: meteor, NewScratch: newComet},
		{ID: RunningLights, Name: "Running Lights", Render: runningLights},
		{ID: Custom, Name: "Custom", Render: custom},
	}
}

func newOffset() any { return &OffsetState{} }
func newComet() any  { return &CometState{} }

func solid(f *Frame) {
	f.Fill(f.Config.Color)
}

func blink(f *Frame) {
	if f.Due(1) {
		f.State.Direction = !f.State.Direction
	}
	if f.State.Direction {
		f.Fill(f.Config.Color)
	} else {
		f.Fill(pixel.Black)
	}
}

func breathe(f *Frame) {
	s := f.State.Scratch.(*BreatheState)
	if f.Due(4) {
		if s.Rising {
			if int(s.Level)+5 >= 250 {
				s.Level, s.Rising = 255, false
			} else {
				s.Level += 5
			}
		} else {
			if s.Level <= 5 {
				s.Level, s.Rising = 0, true
			} else {
				s.Level -= 5
			}
		}
	}
	f.Fill(f.Config.Color.Scale(pixel.Gamma(s.Level)))
}

func cyclic(f *Frame) {
	s := f.State.Scratch.(*OffsetState)
	n := len(f.Pixels)
	if f.Due(1) {
		s.Offset = (s.Offset + 1) % n
	}
	f.Fill(pixel.Black)
	trail := min(5, n)
	for i := 0; i < trail; i++ {
		fade := uint8(255 - i*255/trail)
		f.Pixels[(s.Offset+i)%n] = f.Config.Color.Scale(fade)
	}
}

func rainbow(f *Frame) {
	s := f.State.Scratch.(*OffsetState)
	n := len(f.Pixels)
	if f.Due(1) {
		s.Offset = (s.Offset + 1) % 256
	}
	for i := range f.Pixels {
		hue := uint8(i*256/n + s.Offset)
		f.Pixels[i] = pixel.FromHSV(hue, 255, f.Config.Brightness)
	}
}

func colorWipe(f *Frame) {
	s := f.State.Scratch.(*WipeState)
	n := len(f.Pixels)
	if f.Due(1) {
		if s.Pixel < n {
			s.Pixel++
		} else {
			s.Clearing = !s.Clearing
			s.Pixel = 0
		}
	}
	fill, rest := f.Config.Color, pixel.Black
	if s.Clearing {
		fill, rest = rest, fill
	}
	for i := range f.Pixels {
		if i < s.Pixel {
			f.Pixels[i] = fill
		} else {
			f.Pixels[i] = rest
		}
	}
}

func theaterChase(f *Frame) {
	s := f.State.Scratch.(*OffsetState)
	if f.Due(1) {
		s.Offset = (s.Offset + 1) % 3
	}
	for i := range f.Pixels {
		if (i+s.Offset)%3 == 0 {
			f.Pixels[i] = f.Config.Color
		} else {
			f.Pixels[i] = pixel.Black
		}
	}
}

// One roll per pixel, lit with probability 1/20.
func sparkle(f *Frame) {
	if !f.Due(2) {
		return
	}
	f.Fill(pixel.Black)
	for i := range f.Pixels {
		if f.Rand.Uint32()%20 == 0 {
			f.Pixels[i] = f.Config.Color
		}
	}
}

func comet(f *Frame) {
	s := f.State.Scratch.(*CometState)
	n := len(f.Pixels)
	tail := max(3, n/4)
	if f.Due(1) {
		s.Head++
		if s.Head >= n+tail {
			s.Head = -tail
		}
	}
	for i := range f.Pixels {
		f.Pixels[i] = f.Pixels[i].Scale(200)
	}
	drawTail(f.Pixels, f.Config.Color, s.Head, tail)
}

// drawTail paints a linear falloff from head backwards over length pixels.
func drawTail(px []pixel.Color, c pixel.Color, head, length int) {
	for i := 0; i < length; i++ {
		pos := head - i
		if pos >= 0 && pos < len(px) {
			px[pos] = c.Scale(uint8(255 - i*255/length))
		}
	}
}

func fire(f *Frame) {
	s := f.State.Scratch.(*FireState)
	n := len(f.Pixels)
	if size := max(64, n); len(s.Heat) != size {
		s.Heat = make([]uint8, size)
	}
	heat := s.Heat
	if f.Due(2) {
		span := 550/n + 2
		for i := range heat {
			cool := int(randByte(f.Rand)) % span
			heat[i] = uint8(max(0, int(heat[i])-cool))
		}
		for i := len(heat) - 1; i >= 2; i-- {
			heat[i] = uint8((int(heat[i-1]) + 2*int(heat[i-2])) / 3)
		}
		if randByte(f.Rand) < 120 {
			pos := int(randByte(f.Rand)) % min(7, len(heat))
			heat[pos] = uint8(min(255, int(heat[pos])+160+int(randByte(f.Rand))%96))
		}
	}
	for i := range f.Pixels {
		f.Pixels[i] = heatColor(heat[i]).Scale(f.Config.Brightness)
	}
}

// heatColor ramps black to red, red to yellow, then yellow to white.
func heatColor(h uint8) pixel.Color {
	switch {
	case h < 85:
		return pixel.Color{R: h * 3}
	case h < 170:
		return pixel.Color{R: 255, G: (h - 85) * 3}
	default:
		return pixel.Color{R: 255, G: 255, B: (h - 170) * 3}
	}
}

func wave(f *Frame) {
	s := f.State.Scratch.(*WaveState)
	n := len(f.Pixels)
	if f.Due(4) {
		s.Position++
	}
	for i := range f.Pixels {
		phase := uint8(i*256/n + int(s.Position))
		f.Pixels[i] = f.Config.Color.Scale(pixel.Sin8(phase))
	}
}

// Decay everything by ~4% and relight about one pixel in fifty.
func twinkle(f *Frame) {
	if !f.Due(4) {
		return
	}
	for i := range f.Pixels {
		f.Pixels[i] = f.Pixels[i].Scale(245)
	}
	for i := range f.Pixels {
		if f.Rand.Uint32()%50 == 0 {
			f.Pixels[i] = f.Config.Color
		}
	}
}

func gradient(f *Frame) {
	n := len(f.Pixels)
	if f.Due(1) {
		f.State.Phase++
	}
	c := f.Config.Color
	comp := c.Complement()
	for i := range f.Pixels {
		pos := uint8(uint32(i*256/n) + f.State.Phase)
		f.Pixels[i] = c.Blend(comp, pixel.Sin8(pos))
	}
}

func pulse(f *Frame) {
	n := len(f.Pixels)
	center := n / 2
	if f.Due(8) {
		f.State.Phase++
	}
	f.Fill(pixel.Black)
	width := int(uint8(f.State.Phase % uint32(n/2+10)))
	for i := range f.Pixels {
		dist := i - center
		if dist < 0 {
			dist = -dist
		}
		if dist <= width {
			f.Pixels[i] = f.Config.Color.Scale(uint8(255 - dist*255/(width+1)))
		}
	}
}

func meteor(f *Frame) {
	s := f.State.Scratch.(*CometState)
	n := len(f.Pixels)
	size := max(3, n/8)
	if !f.Due(1) {
		return
	}
	for i := range f.Pixels {
		if randByte(f.Rand) < 64 {
			f.Pixels[i] = f.Pixels[i].Scale(192)
		}
	}
	s.Head++
	if s.Head >= 2*n {
		s.Head = 0
	}
	drawTail(f.Pixels, f.Config.Color, s.Head, size)
}

func runningLights(f *Frame) {
	if f.Due(4) {
		f.State.Phase++
	}
	for i := range f.Pixels {
		v := pixel.Sin8(uint8((uint32(i)*32 + f.State.Phase*4) & 0xff))
		f.Pixels[i] = f.Config.Color.Scale(v)
	}
}

func custom(f *Frame) {
	if f.Config.Custom == nil {
		solid(f)
		return
	}
	f.Config.Custom(f.Pixels, f.Tick)
}
