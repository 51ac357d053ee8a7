// Package api serves the HTTP control surface: effect listing, per-channel
// get/set, persistence, frame snapshots and a websocket frame stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/coreman2200/pixdriver/internal/driver"
	"github.com/coreman2200/pixdriver/internal/effects"
	"github.com/coreman2200/pixdriver/internal/led"
	"github.com/coreman2200/pixdriver/internal/pixel"
)

type Options struct {
	Version string
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

type Server struct {
	drv   *driver.Driver
	opts  Options
	hub   *Hub
	start time.Time

	up websocket.Upgrader

	limMu     sync.Mutex
	limiters  map[string]*client
	lastSweep time.Time
	now       func() time.Time
}

// client is a per-IP limiter. Idle ones are dropped after limiterIdle.
type client struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = 5 * time.Minute

// New wires the server to d and registers a tick hook that streams the main
// channel to websocket clients. Run the returned server's Hub for streaming.
func New(d *driver.Driver, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		drv:      d,
		opts:     opts,
		hub:      NewHub(),
		start:    time.Now(),
		limiters: map[string]*client{},
		now:      time.Now,
	}
	s.up = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	d.OnTick(s.publish)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed, rate-limited, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/effects", s.handleEffects)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/channels/{index}", s.handleGetChannel)
	mux.HandleFunc("POST /api/channels/{index}", s.handleSetChannel)
	mux.HandleFunc("POST /api/channels/{index}/save", s.handleSaveChannel)
	mux.HandleFunc("PUT /api/channels/{index}/pixels", s.handleSetPixels)
	mux.HandleFunc("GET /api/channels/{index}/frame", s.handleFrame)
	mux.HandleFunc("GET /ws/frames", s.handleFramesWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	return withCORS(s.withRateLimit(mux))
}

// Serve runs an http.Server on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ChannelState struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	Pin        string      `json:"pin"`
	Pixels     int         `json:"pixels"`
	Format     string      `json:"format"`
	Effect     string      `json:"effect_id"`
	Brightness uint8       `json:"brightness"`
	Speed      uint8       `json:"speed"`
	On         bool        `json:"on"`
	Color      pixel.Color `json:"color"`
	Hex        string      `json:"hex"`
	CurrentMA  uint32      `json:"current_ma"`
	BytesSent  uint64      `json:"bytes_sent"`
	Status     string      `json:"status"`
}

func channelState(ch *led.Channel) ChannelState {
	cfg := ch.Config()
	fx := ch.Effect()
	return ChannelState{
		ID:         ch.ID(),
		Name:       cfg.Name,
		Pin:        cfg.Pin,
		Pixels:     cfg.Pixels,
		Format:     cfg.Format.String(),
		Effect:     fx.Effect,
		Brightness: fx.Brightness,
		Speed:      fx.Speed,
		On:         fx.Enabled,
		Color:      fx.Color,
		Hex:        fx.Color.Hex(),
		CurrentMA:  ch.ScaledConsumption(),
		BytesSent:  ch.BytesSent(),
		Status:     ch.Status().String(),
	}
}

// ChannelUpdate is a partial channel write. Color accepts {"r":..} or "#rrggbb".
type ChannelUpdate struct {
	Effect     *string         `json:"effect_id"`
	Brightness *uint8          `json:"brightness"`
	Speed      *uint8          `json:"speed"`
	On         *bool           `json:"on"`
	Color      json.RawMessage `json:"color"`
}

func (u ChannelUpdate) settings() (effects.Settings, error) {
	s := effects.Settings{Brightness: u.Brightness, Speed: u.Speed, Enabled: u.On}
	if u.Effect != nil {
		id := effects.Normalize(*u.Effect)
		s.Effect = &id
	}
	if len(u.Color) > 0 && string(u.Color) != "null" {
		c, err := parseColor(u.Color)
		if err != nil {
			return s, err
		}
		s.Color = &c
	}
	return s, nil
}

func parseColor(raw json.RawMessage) (pixel.Color, error) {
	var hex string
	if err := json.Unmarshal(raw, &hex); err == nil {
		return pixel.ParseHex(hex)
	}
	var c pixel.Color
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("color: %w", err)
	}
	return c, nil
}

func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	e := s.drv.Engine()
	if e == nil {
		writeError(w, http.StatusServiceUnavailable, driver.ErrNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, e.Effects())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	type channel struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Pixels int    `json:"pixels"`
		Format string `json:"format"`
	}
	chans := s.drv.Channels()
	out := struct {
		Version      string    `json:"version"`
		ChannelCount int       `json:"channel_count"`
		Channels     []channel `json:"channels"`
		MainChannel  int       `json:"main_channel"`
		UpdateRateHz uint32    `json:"update_rate_hz"`
		CurrentLimit int32     `json:"current_limit_ma"`
	}{
		Version:      s.opts.Version,
		ChannelCount: len(chans),
		Channels:     make([]channel, 0, len(chans)),
		MainChannel:  s.drv.MainChannelID(),
		UpdateRateHz: s.drv.UpdateRate(),
		CurrentLimit: s.drv.CurrentLimit(),
	}
	for _, ch := range chans {
		c := ch.Config()
		out.Channels = append(out.Channels, channel{ID: ch.ID(), Name: c.Name, Pixels: c.Pixels, Format: c.Format.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) channel(w http.ResponseWriter, r *http.Request) (*led.Channel, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("channel index: %w", err))
		return nil, false
	}
	ch, err := s.drv.ChannelAt(idx)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return ch, true
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, channelState(ch))
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	var u ChannelUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	set, err := u.settings()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ch.Apply(set)
	log.Debug().Int("channel", ch.ID()).Msg("channel updated over http")
	writeJSON(w, http.StatusOK, channelState(ch))
}

func (s *Server) handleSaveChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	if err := s.drv.SaveChannel(ch.ID()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, channelState(ch))
}

// PixelWrite replaces a channel's raw buffer and switches it to the RAW
// effect. Pixels take the same color forms as ChannelUpdate. A non-nil empty
// Mask clears the mask.
type PixelWrite struct {
	Pixels []json.RawMessage `json:"pixels"`
	Mask   *[]bool           `json:"mask"`
}

func (s *Server) handleSetPixels(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	var pw PixelWrite
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&pw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	n := ch.Config().Pixels
	if len(pw.Pixels) > n {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%d pixels for a %d pixel channel", len(pw.Pixels), n))
		return
	}
	px := make([]pixel.Color, len(pw.Pixels))
	for i, raw := range pw.Pixels {
		c, err := parseColor(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("pixel %d: %w", i, err))
			return
		}
		px[i] = c
	}
	if pw.Mask != nil {
		if len(*pw.Mask) == 0 {
			ch.ClearMask()
		} else if err := ch.SetMask(*pw.Mask); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	ch.SetEffectID(effects.Raw)
	ch.SetPixels(px)
	writeJSON(w, http.StatusOK, channelState(ch))
}

// Frame is the scaled pixel data of one channel, Stride bytes per pixel.
type Frame struct {
	T       int64  `json:"t"`
	Tick    uint32 `json:"tick"`
	Channel int    `json:"channel"`
	Stride  int    `json:"stride"`
	Data    []byte `json:"data"`
}

func frameOf(ch *led.Channel, tick uint32) Frame {
	f := ch.Config().Format
	px := ch.Snapshot()
	stride := f.BytesPerPixel()
	data := make([]byte, 0, len(px)*stride)
	for _, p := range px {
		data = append(data, p.R, p.G, p.B)
		if f == pixel.RGBW {
			data = append(data, p.W)
		}
	}
	return Frame{T: time.Now().UnixNano(), Tick: tick, Channel: ch.ID(), Stride: stride, Data: data}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, frameOf(ch, s.drv.Tick()))
}

func (s *Server) publish(tick uint32) {
	if s.hub.Clients() == 0 {
		return
	}
	ch := s.drv.MainChannel()
	if ch == nil {
		return
	}
	b, err := json.Marshal(frameOf(ch, tick))
	if err != nil {
		log.Debug().Err(err).Msg("encode frame")
		return
	}
	s.hub.Publish(b)
}

func (s *Server) handleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	s.hub.add(conn)
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":    s.drv.Initialized(),
		"running":        s.drv.Running(),
		"tick":           s.drv.Tick(),
		"uptime_s":       time.Since(s.start).Seconds(),
		"channels":       len(s.drv.ChannelIDs()),
		"total_ma":       s.drv.TotalCurrent(),
		"scaled_ma":      s.drv.ScaledCurrent(),
		"scale":          s.drv.LastScale(),
		"update_rate_hz": s.drv.UpdateRate(),
		"ws_clients":     s.hub.Clients(),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("websocket origin blocked")
	return false
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		for k, c := range s.limiters {
			if now.Sub(c.seen) >= limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}
	c, ok := s.limiters[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(rate.Limit(s.opts.RateLimit), max(1, s.opts.RateBurst))}
		s.limiters[key] = c
	}
	c.seen = now
	return c.lim
}

func (s *Server) withRateLimit(h http.Handler) http.Handler {
	if s.opts.RateLimit <= 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter(host).Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		h.ServeHTTP(w, r)
	})
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
