// Package origin decides which browser origins may reach the signaling
// server, both for plain HTTP requests and for WebSocket upgrades.
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Any is the allow-list entry that admits every origin.
const Any = "*"

// Origin is a parsed browser Origin value.
type Origin struct {
	Scheme   string
	Hostname string
	// Port is zero when the scheme's default port is used.
	Port uint16
}

// Host returns host[:port], bracketing IPv6 literals.
func (o Origin) Host() string {
	host := o.Hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Port != 0 {
		host += ":" + strconv.Itoa(int(o.Port))
	}
	return host
}

func (o Origin) String() string {
	return o.Scheme + "://" + o.Host()
}

func defaultPort(scheme string) uint16 {
	if scheme == "https" {
		return 443
	}
	return 80
}

// Parse validates a browser Origin header value. Only http and https
// origins without path, query, fragment or userinfo are accepted. Scheme and
// hostname are lower-cased and the scheme's default port is dropped.
func Parse(header string) (Origin, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return Origin{}, fmt.Errorf("empty origin")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("parse origin %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, fmt.Errorf("origin %q: unsupported scheme", raw)
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || u.Opaque != "" {
		return Origin{}, fmt.Errorf("origin %q: unexpected url components", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, fmt.Errorf("origin %q: unexpected path", raw)
	}

	o, err := parseAuthority(scheme, u.Host)
	if err != nil {
		return Origin{}, fmt.Errorf("origin %q: %w", raw, err)
	}
	return o, nil
}

func parseAuthority(scheme, authority string) (Origin, error) {
	if authority == "" {
		return Origin{}, fmt.Errorf("missing host")
	}
	hostname, rawPort := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		hostname, rawPort = h, p
		if rawPort == "" {
			return Origin{}, fmt.Errorf("empty port")
		}
	} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
		hostname = authority[1 : len(authority)-1]
	} else if strings.Contains(authority, ":") {
		return Origin{}, fmt.Errorf("invalid host %q", authority)
	}

	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return Origin{}, fmt.Errorf("missing hostname")
	}
	o := Origin{Scheme: scheme, Hostname: hostname}
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return Origin{}, fmt.Errorf("invalid port %q", rawPort)
		}
		o.Port = uint16(n)
	}
	if o.Port == defaultPort(scheme) {
		o.Port = 0
	}
	return o, nil
}

// Policy is an origin allow list. The zero value allows only origins whose
// host matches the request's Host header.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from allow-list entries. Each entry is either
// Any or an origin accepted by Parse.
func NewPolicy(entries []string) (*Policy, error) {
	p := &Policy{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == Any {
			p.any = true
			continue
		}
		o, err := Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("allowed origin: %w", err)
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{})
		}
		p.allowed[o.String()] = struct{}{}
	}
	return p, nil
}

// AllowsAny reports whether the policy admits every origin.
func (p *Policy) AllowsAny() bool {
	return p != nil && p.any
}

// Check validates header against the policy for a request addressed to
// requestHost. It returns the canonical origin to echo back in CORS headers.
//
// With an explicit allow list the origin must appear in it. Otherwise the
// origin's host[:port] must equal the request host; the scheme is ignored so
// a TLS-terminating proxy in front of the server does not break same-host
// clients.
func (p *Policy) Check(header, requestHost string) (string, bool) {
	o, err := Parse(header)
	if err != nil {
		return "", false
	}
	canonical := o.String()

	if p != nil && (p.any || len(p.allowed) > 0) {
		if p.any {
			return canonical, true
		}
		_, ok := p.allowed[canonical]
		return canonical, ok
	}

	req, err := parseAuthority(o.Scheme, strings.TrimSpace(requestHost))
	if err != nil {
		return "", false
	}
	return canonical, req.Host() == o.Host()
}
