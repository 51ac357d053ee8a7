// Command pixdriver drives WS2812 strips on SPI ports and serves the HTTP
// control API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"

	"github.com/coreman2200/pixdriver/internal/api"
	"github.com/coreman2200/pixdriver/internal/config"
	"github.com/coreman2200/pixdriver/internal/diagnostics"
	"github.com/coreman2200/pixdriver/internal/driver"
	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/scheduler"
	"github.com/coreman2200/pixdriver/internal/script"
	"github.com/coreman2200/pixdriver/internal/store"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		configPath = pflag.StringP("config", "c", "pixdriver.yaml", "path to the YAML config")
		drvName    = pflag.String("driver", "spi", "output driver: spi | sim")
		addr       = pflag.String("addr", ":8080", "HTTP listen address")
		rateHz     = pflag.Uint32("rate", 60, "update rate in Hz")
		limitMA    = pflag.Int32("limit", -1, "current limit in mA, <= 0 for none")
		debug      = pflag.BoolP("debug", "d", false, "debug logging")
	)
	pflag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	// Flags given on the command line win over the file.
	flags := pflag.CommandLine
	if flags.Changed("driver") {
		cfg.Driver = *drvName
	}
	if flags.Changed("addr") {
		cfg.HTTP.Addr = *addr
	}
	if flags.Changed("rate") {
		cfg.UpdateRateHz = *rateHz
	}
	if flags.Changed("limit") {
		cfg.CurrentLimitMA = *limitMA
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("pixdriver")
	}
}

func opener(cfg *config.Config) led.Opener {
	sim := led.NewSim()
	sim.Delay = cfg.SimDelay
	if cfg.Driver == "sim" {
		return sim
	}
	if _, err := host.Init(); err != nil {
		log.Warn().Err(err).Msg("periph host init failed; using simulated output")
		return sim
	}
	return led.Fallback{Primary: led.SPIOpener{}, Secondary: sim}
}

func run(ctx context.Context, cfg *config.Config) error {
	layout := make([]led.Config, 0, len(cfg.Channels))
	for _, c := range cfg.Channels {
		layout = append(layout, c.LED())
	}
	diagnostics.Log(diagnostics.Check(diagnostics.Input{
		Channels:       layout,
		UpdateRateHz:   cfg.UpdateRateHz,
		CurrentLimitMA: cfg.CurrentLimitMA,
		ReserveMA:      driver.SystemReserve,
	}))

	drv := driver.New(opener(cfg), driver.WithStore(store.NewFile(cfg.StorePath)))
	drv.Initialize(cfg.UpdateRateHz)
	drv.SetCurrentLimit(cfg.CurrentLimitMA)
	defer drv.Shutdown()

	scripts, err := script.RegisterDir(drv.Engine(), cfg.ScriptsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.ScriptsDir).Msg("lua effects not loaded")
	}
	defer func() {
		for _, s := range scripts {
			s.Close()
		}
	}()

	for _, c := range layout {
		if id := drv.AddChannel(c); id < 0 {
			log.Error().Str("name", c.Name).Str("pin", c.Pin).Msg("channel not added")
		}
	}
	if len(drv.ChannelIDs()) == 0 {
		log.Warn().Msg("no channels running; the API will serve an empty driver")
	}

	sched := scheduler.New(drv)
	for _, s := range cfg.Schedules {
		ch := scheduler.AllChannels
		if s.Channel != nil {
			ch = *s.Channel
		}
		if _, err := sched.Add(s.Spec, s.Command, ch); err != nil {
			log.Warn().Err(err).Msg("schedule skipped")
		}
	}

	srv := api.New(drv, api.Options{
		Version:        version,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	if err := drv.Start(); err != nil {
		return err
	}
	defer drv.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, cfg.HTTP.Addr) })
	g.Go(func() error { return srv.Hub().Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}
