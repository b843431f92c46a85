// Package config loads server settings from environment variables and
// command-line flags. Environment values become flag defaults, so an explicit
// flag always wins.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lchangra/lchangra-signal/internal/origin"
)

const (
	envVarListenAddr      = "LCHANGRA_SIGNAL_LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarPublicBaseURL   = "LCHANGRA_SIGNAL_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMode            = "LCHANGRA_SIGNAL_MODE"
	envVarLogFormat       = "LCHANGRA_SIGNAL_LOG_FORMAT"
	envVarLogLevel        = "LCHANGRA_SIGNAL_LOG_LEVEL"
	envVarShutdownTimeout = "LCHANGRA_SIGNAL_SHUTDOWN_TIMEOUT"

	envVarWSIdleTimeout        = "LCHANGRA_SIGNAL_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "LCHANGRA_SIGNAL_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "LCHANGRA_SIGNAL_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "LCHANGRA_SIGNAL_MAX_MESSAGES_PER_SECOND"
	envVarOutboxSize           = "LCHANGRA_SIGNAL_OUTBOX_SIZE"
	envVarMaxConnections       = "LCHANGRA_SIGNAL_MAX_CONNECTIONS"
	envVarRematchDelay         = "LCHANGRA_SIGNAL_REMATCH_DELAY"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr      = ":3000"
	DefaultMode            = ModeDev
	DefaultShutdownTimeout = 15 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
	DefaultOutboxSize           = 64
	DefaultRematchDelay         = time.Second

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "lchangra"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	OutboxSize           int

	// MaxConnections caps concurrent WebSocket clients. 0 means unlimited.
	MaxConnections int
	// RematchDelay is the pause between "next" and the new search. 0 means
	// search immediately.
	RematchDelay time.Duration

	iceConfigErr error
}

// ICEConfigError reports why the configured ICE servers were rejected. The
// server still starts, but /readyz fails until the configuration is fixed.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// OriginPolicy builds the policy for AllowedOrigins.
func (c Config) OriginPolicy() (*origin.Policy, error) {
	return origin.NewPolicy(c.AllowedOrigins)
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	// Empty log settings are resolved from the final mode after flag parsing.
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, "")
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, "")

	listenDefault := DefaultListenAddr
	if port := strings.TrimSpace(envOrDefault(lookup, envVarPort, "")); port != "" {
		listenDefault = ":" + port
	}
	listenAddr := envOrDefault(lookup, envVarListenAddr, listenDefault)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	rematchDelay, err := envDurationOrDefault(lookup, envVarRematchDelay, DefaultRematchDelay)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	outboxSize, err := envIntOrDefault(lookup, envVarOutboxSize, DefaultOutboxSize)
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("lchangra-signal", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var modeStr, logFormatStr, logLevelStr string
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (env "+envVarListenAddr+", or :$PORT)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL, used for logging (env "+envVarPublicBaseURL+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to connect; * allows any (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (default json in prod, text in dev)")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (default info in prod, debug in dev)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON list (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret (env "+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential lifetime in seconds (env "+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm, informational (env "+envVarTURNRESTRealm+")")

	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close WebSockets silent for this long, 0 disables (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "WebSocket ping interval, 0 disables (env "+envVarWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&outboxSize, "outbox-size", outboxSize, "Outbound frames buffered per connection (env "+envVarOutboxSize+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum concurrent connections, 0 = unlimited (env "+envVarMaxConnections+")")
	fs.DurationVar(&rematchDelay, "rematch-delay", rematchDelay, "Pause between next and the new search (env "+envVarRematchDelay+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(logFormatStr) == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	if strings.TrimSpace(logLevelStr) == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, errors.New("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0 (got %s)", shutdownTimeout)
	}
	if wsIdleTimeout < 0 || wsPingInterval < 0 {
		return Config{}, errors.New("websocket idle timeout and ping interval must be >= 0")
	}
	if wsIdleTimeout > 0 && wsPingInterval > 0 && wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("ws ping interval (%s) must be less than ws idle timeout (%s)", wsPingInterval, wsIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max message bytes must be > 0 (got %d)", maxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("max messages per second must be > 0 (got %d)", maxMessagesPerSecond)
	}
	if outboxSize <= 0 {
		return Config{}, fmt.Errorf("outbox size must be > 0 (got %d)", outboxSize)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("max connections must be >= 0 (got %d)", maxConnections)
	}
	if rematchDelay < 0 {
		return Config{}, fmt.Errorf("rematch delay must be >= 0 (got %s)", rematchDelay)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   strings.TrimSpace(turnRESTSharedSecret),
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: strings.TrimSpace(turnRESTUsernamePrefix),
		Realm:          strings.TrimSpace(turnRESTRealm),
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 (got %d)", envVarTURNRESTTTLSeconds, turnREST.TTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	// TURN servers may omit static credentials when they are minted per
	// request through TURN REST.
	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnREST.Enabled())

	return Config{
		ListenAddr:      listenAddr,
		PublicBaseURL:   strings.TrimSpace(publicBaseURL),
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		ICEServers: iceServers,
		TURNREST:   turnREST,

		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		OutboxSize:           outboxSize,
		MaxConnections:       maxConnections,
		RematchDelay:         rematchDelay,

		iceConfigErr: iceErr,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatText:
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "warning" {
		normalized = "warn"
	}
	if err := level.UnmarshalText([]byte(normalized)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
	return level, nil
}

// parseAllowedOrigins validates each comma-separated entry and returns them
// in canonical form.
func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == origin.Any {
			out = append(out, entry)
			continue
		}
		o, err := origin.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry: %w", envVarAllowedOrigins, err)
		}
		out = append(out, o.String())
	}
	return out, nil
}
