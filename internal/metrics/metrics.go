package metrics

import "sync"

// Connection lifecycle.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
)

// Pairing events.
const (
	PairsFormed        = "pairs_formed"
	PairsDissolved     = "pairs_dissolved"
	StaleQueueEntries  = "stale_queue_entries"
	RematchesScheduled = "rematches_scheduled"
)

// Relay events.
const (
	RelayForwarded       = "relay_forwarded"
	RelayDroppedUnpaired = "relay_dropped_unpaired"
	MalformedMessages    = "malformed_messages"
	OutboxDropped        = "outbox_dropped"
)

// Drop reasons for rejected connections and messages.
const (
	DropReasonRateLimited        = "rate_limited"
	DropReasonTooManyConnections = "too_many_connections"
	DropReasonOriginRejected     = "origin_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards everything, so components can be
// constructed in tests without wiring a registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
