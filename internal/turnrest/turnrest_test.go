package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	}
	g, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestFor_UsernameAndExpiry(t *testing.T) {
	g := fixedGenerator(t, Config{SharedSecret: "shared-secret", TTL: time.Hour, Prefix: "lchangra"})

	creds, err := g.For("req42")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if want := "1700003600:lchangra:req42"; creds.Username != want {
		t.Fatalf("Username=%q, want %q", creds.Username, want)
	}
	if want := time.Unix(1_700_003_600, 0).UTC(); !creds.Expires.Equal(want) {
		t.Fatalf("Expires=%v, want %v", creds.Expires, want)
	}
}

func TestFor_CredentialIsBase64HMACSHA1(t *testing.T) {
	g := fixedGenerator(t, Config{SharedSecret: "secret", TTL: time.Second, Prefix: "p"})

	creds, err := g.For("abc")
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(creds.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != want {
		t.Fatalf("Credential=%q, want %q", creds.Credential, want)
	}

	raw, err := base64.StdEncoding.DecodeString(creds.Credential)
	if err != nil {
		t.Fatalf("credential is not base64: %v", err)
	}
	if len(raw) != sha1.Size {
		t.Fatalf("decoded credential length=%d, want %d", len(raw), sha1.Size)
	}
}

func TestFor_SubsecondTTLIsTruncated(t *testing.T) {
	g := fixedGenerator(t, Config{SharedSecret: "s", TTL: 1500 * time.Millisecond, Prefix: "p"})

	creds, err := g.For("x")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if !strings.HasPrefix(creds.Username, "1700000001:") {
		t.Fatalf("Username=%q, want expiry 1700000001", creds.Username)
	}
}

func TestNew_UsesFreshIDs(t *testing.T) {
	g := fixedGenerator(t, Config{SharedSecret: "s", TTL: time.Minute, Prefix: "p"})

	a, err := g.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := g.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Username == b.Username {
		t.Fatalf("expected distinct usernames, both %q", a.Username)
	}
	if parts := strings.Split(a.Username, ":"); len(parts) != 3 || len(parts[2]) != 32 {
		t.Fatalf("Username=%q, want <expiry>:p:<32 hex chars>", a.Username)
	}
}

func TestNew_InjectedID(t *testing.T) {
	g := fixedGenerator(t, Config{SharedSecret: "s", TTL: time.Minute, Prefix: "p", NewID: func() string { return "fixed" }})

	creds, err := g.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":p:fixed") {
		t.Fatalf("Username=%q", creds.Username)
	}
}

func TestValidation(t *testing.T) {
	for _, tc := range []struct {
		cfg  Config
		want error
	}{
		{Config{TTL: time.Minute, Prefix: "p"}, ErrMissingSecret},
		{Config{SharedSecret: "s", Prefix: "p"}, ErrInvalidTTL},
		{Config{SharedSecret: "s", TTL: time.Minute}, ErrInvalidPrefix},
		{Config{SharedSecret: "s", TTL: time.Minute, Prefix: "a:b"}, ErrInvalidPrefix},
	} {
		if _, err := NewGenerator(tc.cfg); !errors.Is(err, tc.want) {
			t.Fatalf("NewGenerator(%+v) err=%v, want %v", tc.cfg, err, tc.want)
		}
	}

	g := fixedGenerator(t, Config{SharedSecret: "s", TTL: time.Minute, Prefix: "p"})
	for _, id := range []string{"", "a:b"} {
		if _, err := g.For(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("For(%q) err=%v, want ErrInvalidID", id, err)
		}
	}
}
