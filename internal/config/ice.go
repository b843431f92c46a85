package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "LCHANGRA_ICE_SERVERS_JSON"

	envStunURLs       = "LCHANGRA_STUN_URLS"
	envTurnURLs       = "LCHANGRA_TURN_URLS"
	envTurnUsername   = "LCHANGRA_TURN_USERNAME"
	envTurnCredential = "LCHANGRA_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers the JSON list and falls back to the
// STUN/TURN convenience settings.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, allowTURNWithoutCreds bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, allowTURNWithoutCreds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, allowTURNWithoutCreds)
}

// iceServerInit mirrors the browser's RTCIceServer dictionary, where urls may
// be a single string or a list.
type iceServerInit struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer list such as
// [{"urls":"stun:stun.example.com:3478"}].
func ParseICEServersJSON(raw string, allowTURNWithoutCreds bool) ([]webrtc.ICEServer, error) {
	var inits []iceServerInit
	if err := json.Unmarshal([]byte(raw), &inits); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(inits))
	for i, init := range inits {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(init.URLs, ",")),
			Username: strings.TrimSpace(init.Username),
		}
		if cred := strings.TrimSpace(init.Credential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server, allowTURNWithoutCreds); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN entry and one
// TURN entry from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, allowTURNWithoutCreds bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(turnUsername)}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server, allowTURNWithoutCreds); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, allowTURNWithoutCreds bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, url := range server.URLs {
		if !hasICEScheme(url, "stun:", "stuns:", "turn:", "turns:") {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	if !IsTURNServer(server) || allowTURNWithoutCreds {
		return nil
	}
	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || cred == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

// IsTURNServer reports whether any of server's URLs is a TURN URL.
func IsTURNServer(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if hasICEScheme(url, "turn:", "turns:") {
			return true
		}
	}
	return false
}

func hasICEScheme(url string, schemes ...string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	for _, scheme := range schemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
