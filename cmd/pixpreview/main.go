// Command pixpreview plays an effect on an ANSI terminal strip, using the
// same effect library as the driver but no hardware.
package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"periph.io/x/extra/devices/screen"

	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/pixel"
	"github.com/coreman2200/pixdriver/internal/preview"
	"github.com/coreman2200/pixdriver/internal/script"
)

func main() {
	var (
		effect     = pflag.StringP("effect", "e", effects.Rainbow, "effect id")
		pixels     = pflag.IntP("pixels", "n", 60, "strip length")
		hex        = pflag.String("color", "#ff6400", "base color, #rrggbb or #rrggbbww")
		brightness = pflag.Uint8("brightness", 255, "brightness 0..255")
		speed      = pflag.Uint8("speed", 5, "speed 1..10")
		seed       = pflag.Uint32("seed", effects.DefaultSeed, "random seed")
		rate       = pflag.Uint32("rate", 60, "ticks per second")
		ticks      = pflag.Int("ticks", 0, "stop after this many ticks, 0 runs until interrupted")
		rgbw       = pflag.Bool("rgbw", false, "simulate an RGBW strip")
		scripts    = pflag.String("scripts", "", "directory of Lua effects to load")
		list       = pflag.Bool("list", false, "list effects and exit")
	)
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	base, err := pixel.ParseHex(*hex)
	if err != nil {
		log.Fatal().Err(err).Msg("bad --color")
	}
	format := pixel.RGB
	if *rgbw {
		format = pixel.RGBW
	}

	p := preview.New(*pixels, format, *rate)
	if *scripts != "" {
		fxs, err := script.RegisterDir(p.Engine(), *scripts)
		if err != nil {
			log.Fatal().Err(err).Msg("load lua effects")
		}
		defer func() {
			for _, fx := range fxs {
				fx.Close()
			}
		}()
	}
	if *list {
		for _, id := range p.Effects() {
			fmt.Println(id)
		}
		return
	}

	p.SetEffect(*effect)
	p.SetColor(base)
	p.SetBrightness(*brightness)
	p.SetSpeed(*speed)
	p.Seed(*seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := play(ctx, p, *rate, *ticks); err != nil {
		log.Fatal().Err(err).Msg("preview")
	}
}

func play(ctx context.Context, p *preview.Preview, rate uint32, ticks int) error {
	if rate == 0 {
		rate = 60
	}
	d := screen.New(p.Len())
	defer func() {
		_ = d.Halt()
		fmt.Println()
	}()

	t := time.NewTicker(time.Second / time.Duration(rate))
	defer t.Stop()
	for n := 0; ticks <= 0 || n < ticks; n++ {
		p.Tick()
		if err := d.Draw(d.Bounds(), p.Image(), image.Point{}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
	return nil
}
