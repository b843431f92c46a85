package httpserver

import (
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/lchangra/lchangra-signal/internal/config"
)

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// handleICE serves the RTCConfiguration.iceServers list browsers pass to
// their RTCPeerConnection before sending the first offer.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.turn != nil {
		creds, err := s.turn.New()
		if err != nil {
			s.log.Error("turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "turn credentials unavailable"})
			return
		}
		servers = withTURNCredentials(servers, creds.Username, creds.Credential)
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, iceResponse{ICEServers: servers})
}

// withTURNCredentials returns a copy of servers with every TURN entry
// carrying username and credential. STUN entries are left alone.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.IsTURNServer(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
