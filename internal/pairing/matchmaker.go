package pairing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lchangra/lchangra-signal/internal/metrics"
)

// DefaultRematchDelay is how long RequestNext waits between tearing down the
// old pair and looking for a new partner.
const DefaultRematchDelay = time.Second

// AfterFunc schedules f to run after d and returns a func that cancels it.
// It matches the shape of time.AfterFunc(...).Stop.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Config struct {
	// MaxConnections caps the registry size. <= 0 means unlimited.
	MaxConnections int

	// RematchDelay is the pause RequestNext takes before re-matching. A
	// negative value disables the pause; zero selects DefaultRematchDelay.
	RematchDelay time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AfterFunc overrides timer scheduling in tests.
	AfterFunc AfterFunc
}

// Stats is a point-in-time view of the pairing state.
type Stats struct {
	Connections int `json:"connections"`
	Waiting     int `json:"waiting"`
	Pairs       int `json:"pairs"`
}

type pendingRematch struct {
	stop func() bool
}

// Matchmaker owns the connection registry, the waiting queue and the pair
// table. Every exported method runs its whole state change under one lock,
// so a connection can never be popped from the queue twice or written into
// the pair table twice.
type Matchmaker struct {
	log          *slog.Logger
	metrics      *metrics.Metrics
	maxConns     int
	rematchDelay time.Duration
	afterFunc    AfterFunc

	mu       sync.Mutex
	closed   bool
	registry *registry
	queue    *waitingQueue
	pairs    pairTable
	pending  map[ConnID]*pendingRematch
}

func NewMatchmaker(cfg Config) *Matchmaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.RematchDelay
	switch {
	case delay == 0:
		delay = DefaultRematchDelay
	case delay < 0:
		delay = 0
	}
	after := cfg.AfterFunc
	if after == nil {
		after = realAfterFunc
	}
	return &Matchmaker{
		log:          logger,
		metrics:      cfg.Metrics,
		maxConns:     cfg.MaxConnections,
		rematchDelay: delay,
		afterFunc:    after,
		registry:     newRegistry(),
		queue:        newWaitingQueue(),
		pairs:        make(pairTable),
		pending:      make(map[ConnID]*pendingRematch),
	}
}

// Register adds p to the connection registry in the idle state.
func (m *Matchmaker) Register(p Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMatchmakerClosed
	}
	if m.maxConns > 0 && m.registry.len() >= m.maxConns {
		m.metrics.Inc(metrics.DropReasonTooManyConnections)
		return ErrTooManyConnections
	}
	if !m.registry.add(p) {
		return fmt.Errorf("register %s: %w", p.ID(), ErrDuplicateConnection)
	}
	m.metrics.Inc(metrics.ConnectionsOpened)
	return nil
}

// Join records the display name used on relayed chat messages and then
// behaves like RequestMatch.
func (m *Matchmaker) Join(id ConnID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.registry.get(id)
	if !ok {
		return ErrUnknownConnection
	}
	e.name = NormalizeDisplayName(name)
	return m.requestMatchLocked(id)
}

// RequestMatch pairs id with the longest-waiting live connection, or queues
// it when nobody is waiting. An existing pair is torn down first.
func (m *Matchmaker) RequestMatch(id ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestMatchLocked(id)
}

func (m *Matchmaker) requestMatchLocked(id ConnID) error {
	self, ok := m.registry.live(id)
	if !ok {
		return ErrUnknownConnection
	}

	m.cancelRematchLocked(id)
	m.breakPairLocked(id, ReasonRequestedNext)
	m.queue.remove(id)

	for m.queue.len() > 0 {
		candidate, _ := m.queue.pop()
		partner, ok := m.registry.live(candidate)
		if !ok {
			m.metrics.Inc(metrics.StaleQueueEntries)
			m.log.Debug("discarding stale queue entry", "conn_id", candidate)
			continue
		}

		m.pairs.link(id, candidate)
		m.metrics.Inc(metrics.PairsFormed)
		m.notify(partner.peer, Event{Type: EventMatched})
		m.notify(self.peer, Event{Type: EventMatched, Initiator: true})
		m.log.Info("paired", "conn_id", id, "partner_id", candidate)
		return nil
	}

	m.queue.push(id)
	m.notify(self.peer, Event{Type: EventWaiting})
	m.log.Debug("queued", "conn_id", id, "waiting", m.queue.len())
	return nil
}

// BreakPair dissolves id's pair, if any, and tells the partner why. Neither
// side is re-queued.
func (m *Matchmaker) BreakPair(id ConnID, reason LeaveReason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakPairLocked(id, reason)
}

func (m *Matchmaker) breakPairLocked(id ConnID, reason LeaveReason) bool {
	partner, ok := m.pairs.unlink(id)
	if !ok {
		return false
	}
	m.metrics.Inc(metrics.PairsDissolved)
	if e, ok := m.registry.get(partner); ok {
		m.notify(e.peer, Event{Type: EventPartnerLeft, Reason: reason})
	}
	m.log.Info("pair dissolved", "conn_id", id, "partner_id", partner, "reason", reason)
	return true
}

// RequestNext leaves the current partner and looks for a new one after the
// configured re-match delay. The former partner is left idle, so it cannot be
// picked again by this call.
func (m *Matchmaker) RequestNext(id ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.live(id); !ok {
		return ErrUnknownConnection
	}
	m.cancelRematchLocked(id)
	m.breakPairLocked(id, ReasonRequestedNext)
	m.queue.remove(id)

	if m.rematchDelay <= 0 || m.closed {
		return m.requestMatchLocked(id)
	}

	p := &pendingRematch{}
	m.pending[id] = p
	p.stop = m.afterFunc(m.rematchDelay, func() { m.rematch(id, p) })
	m.metrics.Inc(metrics.RematchesScheduled)
	return nil
}

// rematch runs a delayed RequestNext. It is a no-op if the schedule was
// cancelled or the connection joined, left or went away in the meantime.
func (m *Matchmaker) rematch(id ConnID, p *pendingRematch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[id] != p {
		return
	}
	delete(m.pending, id)
	if m.closed || m.queue.contains(id) {
		return
	}
	if _, paired := m.pairs.partner(id); paired {
		return
	}
	if err := m.requestMatchLocked(id); err != nil {
		m.log.Debug("delayed rematch skipped", "conn_id", id, "err", err)
	}
}

func (m *Matchmaker) cancelRematchLocked(id ConnID) {
	if p, ok := m.pending[id]; ok {
		if p.stop != nil {
			p.stop()
		}
		delete(m.pending, id)
	}
}

// Leave dissolves id's pair and removes it from the queue, leaving the
// connection registered but idle.
func (m *Matchmaker) Leave(id ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelRematchLocked(id)
	m.breakPairLocked(id, ReasonLeft)
	m.queue.remove(id)
}

// DisconnectCleanup removes every trace of id. Calling it again for the
// same id has no effect.
func (m *Matchmaker) DisconnectCleanup(id ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelRematchLocked(id)
	m.breakPairLocked(id, ReasonDisconnected)
	m.queue.remove(id)
	if !m.registry.remove(id) {
		return false
	}
	m.metrics.Inc(metrics.ConnectionsClosed)
	return true
}

func (m *Matchmaker) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Connections: m.registry.len(),
		Waiting:     m.queue.len(),
		Pairs:       m.pairs.pairs(),
	}
}

// Close cancels pending re-matches and rejects new registrations. Existing
// state is left for DisconnectCleanup to drain.
func (m *Matchmaker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id := range m.pending {
		m.cancelRematchLocked(id)
	}
}

func (m *Matchmaker) notify(p Peer, ev Event) {
	if !p.Send(ev) {
		m.metrics.Inc(metrics.OutboxDropped)
		m.log.Warn("dropped outbound event", "conn_id", p.ID(), "type", ev.Type)
	}
}
