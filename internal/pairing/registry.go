package pairing

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ConnID identifies one live client connection. It is generated server-side
// and never taken from client input.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Peer is the outbound side of a client connection as seen by the
// Matchmaker.
type Peer interface {
	ID() ConnID
	// Send enqueues ev for delivery without blocking. It reports false when
	// the event was dropped.
	Send(ev Event) bool
	// Alive reports false once the transport has observed the connection
	// going away, possibly before DisconnectCleanup has run.
	Alive() bool
}

const (
	DefaultDisplayName  = "Stranger"
	MaxDisplayNameRunes = 32
)

// NormalizeDisplayName trims name and caps it at MaxDisplayNameRunes runes.
// Empty or invalid names become DefaultDisplayName.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return DefaultDisplayName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:MaxDisplayNameRunes]))
	}
	return name
}

type registryEntry struct {
	peer Peer
	name string
}

type registry struct {
	entries map[ConnID]*registryEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[ConnID]*registryEntry)}
}

func (r *registry) add(p Peer) bool {
	if _, ok := r.entries[p.ID()]; ok {
		return false
	}
	r.entries[p.ID()] = &registryEntry{peer: p, name: DefaultDisplayName}
	return true
}

func (r *registry) get(id ConnID) (*registryEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// live reports whether id is registered and its transport is still up.
func (r *registry) live(id ConnID) (*registryEntry, bool) {
	e, ok := r.entries[id]
	if !ok || !e.peer.Alive() {
		return nil, false
	}
	return e, true
}

func (r *registry) remove(id ConnID) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *registry) len() int { return len(r.entries) }
