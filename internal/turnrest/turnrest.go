// Package turnrest mints short-lived TURN credentials using the shared-secret
// scheme understood by coturn (use-auth-secret / static-auth-secret):
//
//	username   = <unix expiry>:<prefix>:<id>
//	credential = base64(HMAC-SHA1(secret, username))
//
// Browsers in a chat pair receive a fresh credential each time they fetch
// the ICE configuration, so leaked credentials expire on their own.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL    = errors.New("turnrest: ttl must be positive")
	ErrInvalidPrefix = errors.New("turnrest: prefix must be non-empty and must not contain ':'")
	ErrInvalidID     = errors.New("turnrest: id must be non-empty and must not contain ':'")
)

type Config struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Generator is safe for concurrent use.
type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TTL < time.Second {
		return nil, ErrInvalidTTL
	}
	if !validField(cfg.Prefix) {
		return nil, ErrInvalidPrefix
	}
	g := &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL.Truncate(time.Second),
		prefix: cfg.Prefix,
		now:    cfg.Now,
		newID:  cfg.NewID,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newID == nil {
		g.newID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return g, nil
}

// For returns credentials bound to id, e.g. a request id.
func (g *Generator) For(id string) (Credentials, error) {
	if !validField(id) {
		return Credentials{}, ErrInvalidID
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + id
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// New returns credentials bound to a fresh random id.
func (g *Generator) New() (Credentials, error) {
	return g.For(g.newID())
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validField(s string) bool {
	return s != "" && !strings.Contains(s, ":")
}
