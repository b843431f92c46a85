// Package signaling serves the WebSocket endpoint browsers use to find a
// partner and exchange chat text and WebRTC session descriptions with them.
//
// Each connection runs one reader and one writer goroutine. The reader
// decodes frames and hands them to the pairing.Matchmaker; the writer drains
// the connection's outbox.
package signaling
