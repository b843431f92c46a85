package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lchangra/lchangra-signal/internal/config"
	"github.com/lchangra/lchangra-signal/internal/httpserver"
	"github.com/lchangra/lchangra-signal/internal/metrics"
	"github.com/lchangra/lchangra-signal/internal/pairing"
	"github.com/lchangra/lchangra-signal/internal/signaling"
	"github.com/lchangra/lchangra-signal/internal/turnrest"
)

type app struct {
	http       *httpserver.Server
	signaling  *signaling.Server
	matchmaker *pairing.Matchmaker
	metrics    *metrics.Metrics
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	origins, err := cfg.OriginPolicy()
	if err != nil {
		return nil, err
	}

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewGenerator(turnrest.Config{
			SharedSecret: cfg.TURNREST.SharedSecret,
			TTL:          time.Duration(cfg.TURNREST.TTLSeconds) * time.Second,
			Prefix:       cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	mm := pairing.NewMatchmaker(pairing.Config{
		MaxConnections: cfg.MaxConnections,
		RematchDelay:   rematchDelay(cfg.RematchDelay),
		Metrics:        m,
		Logger:         logger,
	})
	sig := signaling.NewServer(signaling.Config{
		Matchmaker:           mm,
		Metrics:              m,
		Logger:               logger,
		Origins:              origins,
		WSIdleTimeout:        cfg.WSIdleTimeout,
		WSPingInterval:       cfg.WSPingInterval,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		OutboxSize:           cfg.OutboxSize,
	})

	srv := httpserver.New(cfg, logger, build, httpserver.Options{
		Origins: origins,
		TURN:    turn,
		Metrics: m,
	})
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, mm.Stats())
	})
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, func() map[string]int {
		st := mm.Stats()
		return map[string]int{
			"connections": st.Connections,
			"waiting":     st.Waiting,
			"pairs":       st.Pairs,
		}
	}))

	return &app{http: srv, signaling: sig, matchmaker: mm, metrics: m}, nil
}

// close stops new pairings and disconnects every WebSocket client.
func (a *app) close() {
	a.matchmaker.Close()
	a.signaling.Close()
}

// rematchDelay maps the config convention (0 = immediate) onto the pairing
// one (negative = immediate, 0 = default).
func rematchDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
