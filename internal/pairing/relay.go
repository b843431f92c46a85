package pairing

import "github.com/lchangra/lchangra-signal/internal/metrics"

// Relay forwards sig from the connection from to its current partner and
// reports whether it was handed to the partner's outbox.
//
// Signals from unpaired connections are dropped without error: the partner
// may have just left, and nothing is buffered for later delivery. Chat
// messages carry the sender's display name; offer, answer and candidate
// messages carry the sender's connection id so the client can correlate them.
func (m *Matchmaker) Relay(from ConnID, sig Signal) bool {
	if !sig.Kind.Relayable() {
		m.metrics.Inc(metrics.MalformedMessages)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	partnerID, ok := m.pairs.partner(from)
	if !ok {
		m.metrics.Inc(metrics.RelayDroppedUnpaired)
		return false
	}
	sender, ok := m.registry.get(from)
	if !ok {
		m.metrics.Inc(metrics.RelayDroppedUnpaired)
		return false
	}
	partner, ok := m.registry.get(partnerID)
	if !ok {
		m.metrics.Inc(metrics.RelayDroppedUnpaired)
		return false
	}

	ev := Event{Type: sig.Kind}
	if sig.Kind == EventChatMessage {
		ev.Sender = sender.name
		ev.Text = sig.Text
	} else {
		ev.From = from
		ev.Payload = sig.Payload
	}

	if !partner.peer.Send(ev) {
		m.metrics.Inc(metrics.OutboxDropped)
		return false
	}
	m.metrics.Inc(metrics.RelayForwarded)
	return true
}
