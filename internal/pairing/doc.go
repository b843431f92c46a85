// Package pairing matches anonymous connections into one-on-one pairs and
// relays signaling payloads between the two sides of a pair.
//
// The connection registry, the waiting queue and the pair table are owned by
// a single Matchmaker and only mutated while holding its lock. Notifications
// never block: they are enqueued into each connection's own outbound queue.
package pairing
