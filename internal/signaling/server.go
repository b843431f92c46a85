package signaling

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lchangra/lchangra-signal/internal/metrics"
	"github.com/lchangra/lchangra-signal/internal/origin"
	"github.com/lchangra/lchangra-signal/internal/pairing"
	"github.com/lchangra/lchangra-signal/internal/ratelimit"
)

const (
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
	defaultOutboxSize           = 64
)

// Config wires together the runtime dependencies for the signaling endpoint.
type Config struct {
	Matchmaker *pairing.Matchmaker
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// Origins guards the WebSocket upgrade. A nil policy allows same-host
	// origins only.
	Origins *origin.Policy

	// WSIdleTimeout closes connections that send nothing, not even a pong,
	// for this long. <= 0 disables it.
	WSIdleTimeout time.Duration
	// WSPingInterval must be shorter than WSIdleTimeout. <= 0 disables pings.
	WSPingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	OutboxSize           int

	// Clock drives the per-connection rate limiter.
	Clock ratelimit.Clock
}

// Server implements the GET /ws signaling endpoint.
type Server struct {
	matchmaker *pairing.Matchmaker
	metrics    *metrics.Metrics
	log        *slog.Logger
	origins    *origin.Policy
	clock      ratelimit.Clock
	upgrader   websocket.Upgrader

	idleTimeout       time.Duration
	pingInterval      time.Duration
	maxMessageBytes   int64
	messagesPerSecond int
	outboxSize        int

	mu     sync.Mutex
	closed bool
	conns  map[*wsConn]struct{}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mm := cfg.Matchmaker
	if mm == nil {
		mm = pairing.NewMatchmaker(pairing.Config{Metrics: cfg.Metrics, Logger: logger})
	}
	s := &Server{
		matchmaker:        mm,
		metrics:           cfg.Metrics,
		log:               logger,
		origins:           cfg.Origins,
		clock:             cfg.Clock,
		idleTimeout:       cfg.WSIdleTimeout,
		pingInterval:      cfg.WSPingInterval,
		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerSecond: cfg.MaxMessagesPerSecond,
		outboxSize:        cfg.OutboxSize,
		conns:             make(map[*wsConn]struct{}),
	}
	if s.clock == nil {
		s.clock = ratelimit.RealClock{}
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.messagesPerSecond <= 0 {
		s.messagesPerSecond = defaultMaxMessagesPerSecond
	}
	if s.outboxSize <= 0 {
		s.outboxSize = defaultOutboxSize
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Matchmaker() *pairing.Matchmaker { return s.matchmaker }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// checkOrigin admits clients without an Origin header (native apps, tests);
// browsers must pass the origin policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return true
	}
	if _, ok := s.origins.Check(header, r.Host); ok {
		return true
	}
	s.metrics.Inc(metrics.DropReasonOriginRejected)
	s.log.Debug("websocket origin rejected", "origin", header, "host", r.Host)
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return
	}

	c := newWSConn(s, conn)
	if err := s.matchmaker.Register(c); err != nil {
		s.log.Warn("rejecting websocket", "conn_id", c.id, "err", err)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteJSON(errorMessage(errorCodeServerFull, err.Error()))
		c.closeWith(websocket.CloseTryAgainLater, "server full")
		c.Close()
		return
	}
	if !s.track(c) {
		c.alive.Store(false)
		s.matchmaker.DisconnectCleanup(c.id)
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
		return
	}
	defer s.untrack(c)

	c.log.Debug("websocket connected", "remote_addr", r.RemoteAddr)
	c.run()
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close sends a going-away close frame to every open connection and closes
// the sockets. Each connection's cleanup then runs on its own goroutine.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
}
