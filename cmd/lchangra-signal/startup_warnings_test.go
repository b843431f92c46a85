package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/lchangra/lchangra-signal/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), (*records)...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupSecurityWarnings_QuietDevConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev})

	if got := records(); len(got) != 0 {
		t.Fatalf("expected no warnings, got %+v", got)
	}
}

func TestStartupSecurityWarnings_WildcardOrigins(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"https://lchangra.vercel.app", "*"},
	})

	if codes := warningCodes(records()); !codes["allowed_origins_wildcard"] {
		t.Fatalf("missing allowed_origins_wildcard, got %v", codes)
	}
}

func TestStartupSecurityWarnings_ProdDefaults(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeProd})

	codes := warningCodes(records())
	for _, want := range []string{"allowed_origins_unset_in_prod", "max_connections_unlimited_in_prod"} {
		if !codes[want] {
			t.Fatalf("missing %s, got %v", want, codes)
		}
	}
}

func TestStartupSecurityWarnings_TURN(t *testing.T) {
	stunOnly := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	withTURN := []webrtc.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"}}
	secret := config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "p"}

	for _, tc := range []struct {
		name    string
		cfg     config.Config
		want    string
		notWant string
	}{
		{"rest without turn urls", config.Config{ICEServers: stunOnly, TURNREST: secret}, "turn_rest_without_turn_urls", "turn_static_credentials"},
		{"static turn credentials", config.Config{ICEServers: withTURN}, "turn_static_credentials", "turn_rest_without_turn_urls"},
		{"rest with turn urls", config.Config{ICEServers: withTURN, TURNREST: secret}, "", "turn_rest_without_turn_urls"},
	} {
		logger, records := newRecordingLogger()
		tc.cfg.Mode = config.ModeDev
		logStartupSecurityWarnings(logger, tc.cfg)

		codes := warningCodes(records())
		if tc.want != "" && !codes[tc.want] {
			t.Fatalf("%s: missing %s, got %v", tc.name, tc.want, codes)
		}
		if codes[tc.notWant] {
			t.Fatalf("%s: unexpected %s", tc.name, tc.notWant)
		}
	}
}
