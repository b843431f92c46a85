package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/lchangra/lchangra-signal/internal/config"
	"github.com/lchangra/lchangra-signal/internal/metrics"
	"github.com/lchangra/lchangra-signal/internal/origin"
	"github.com/lchangra/lchangra-signal/internal/turnrest"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, cfg config.Config, opts Options) (srv *Server, baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv = New(cfg, log, BuildInfo{Commit: "abc", BuildTime: "time"}, opts)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return srv, "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, req *http.Request, wantStatus int, v any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s status=%d, want %d", req.URL.Path, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestHealthReadyzVersion(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), Options{})

	t.Run("health", func(t *testing.T) {
		var body map[string]any
		getJSON(t, get(t, baseURL+"/health"), http.StatusOK, &body)
		if body["status"] != "OK" || body["message"] != "Server is running" {
			t.Fatalf("body=%v", body)
		}
	})

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, get(t, baseURL+"/healthz"), http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, get(t, baseURL+"/readyz"), http.StatusOK, &body)
		if body["ready"] != true {
			t.Fatalf("body=%v, want ready=true", body)
		}
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, get(t, baseURL+"/version"), http.StatusOK, &got)
		if want := (BuildInfo{Commit: "abc", BuildTime: "time"}); got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("request id", func(t *testing.T) {
		resp := getJSON(t, get(t, baseURL+"/healthz"), http.StatusOK, nil)
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing X-Request-ID")
		}
		req := get(t, baseURL+"/healthz")
		req.Header.Set("X-Request-ID", "caller-chosen")
		resp = getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("X-Request-ID"); got != "caller-chosen" {
			t.Fatalf("X-Request-ID=%q, want caller-chosen", got)
		}
	})
}

func TestReadyzNotReadyBeforeServe(t *testing.T) {
	srv := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), BuildInfo{}, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	getJSON(t, get(t, ts.URL+"/readyz"), http.StatusServiceUnavailable, nil)
	srv.SetReady(true)
	getJSON(t, get(t, ts.URL+"/readyz"), http.StatusOK, nil)
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	_, baseURL := startTestServer(t, cfg, Options{})

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	resp := getJSON(t, get(t, baseURL+"/webrtc/ice"), http.StatusOK, &payload)
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store", got)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
	if payload.ICEServers[1]["username"] != "user" || payload.ICEServers[1]["credential"] != "pass" {
		t.Fatalf("unexpected turn entry: %#v", payload.ICEServers[1])
	}
}

func TestICEEndpoint_EmptyListIsArray(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), Options{})

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(body)); got != `{"iceServers":[]}` {
		t.Fatalf("body=%s, want empty array", got)
	}
}

func TestICEEndpoint_TURNRESTCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
	}
	gen, err := turnrest.NewGenerator(turnrest.Config{
		SharedSecret: "secret",
		TTL:          time.Hour,
		Prefix:       "lchangra",
		NewID:        func() string { return "fixed" },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	_, baseURL := startTestServer(t, cfg, Options{TURN: gen})

	var payload struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	getJSON(t, get(t, baseURL+"/webrtc/ice"), http.StatusOK, &payload)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if stun := payload.ICEServers[0]; stun.Username != "" || stun.Credential != "" {
		t.Fatalf("stun entry got credentials: %+v", stun)
	}
	turn := payload.ICEServers[1]
	if !strings.HasSuffix(turn.Username, ":lchangra:fixed") {
		t.Fatalf("turn username=%q", turn.Username)
	}
	if want := turnrest.Sign([]byte("secret"), turn.Username); turn.Credential != want {
		t.Fatalf("turn credential=%q, want %q", turn.Credential, want)
	}
	if cfg.ICEServers[1].Username != "" {
		t.Fatalf("configured servers were mutated")
	}
}

func TestReadyzAndICEFailOnInvalidICEConfig(t *testing.T) {
	t.Setenv("LCHANGRA_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	_, baseURL := startTestServer(t, cfg, Options{})
	getJSON(t, get(t, baseURL+"/readyz"), http.StatusServiceUnavailable, nil)
	getJSON(t, get(t, baseURL+"/webrtc/ice"), http.StatusServiceUnavailable, nil)
}

func TestOriginPolicy(t *testing.T) {
	policy, err := origin.NewPolicy([]string{"https://lchangra.vercel.app"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	m := metrics.New()
	_, baseURL := startTestServer(t, testConfig(), Options{Origins: policy, Metrics: m})

	t.Run("rejects unlisted origin", func(t *testing.T) {
		req := get(t, baseURL+"/webrtc/ice")
		req.Header.Set("Origin", "https://evil.example.com")
		getJSON(t, req, http.StatusForbidden, nil)
		if got := m.Get(metrics.DropReasonOriginRejected); got != 1 {
			t.Fatalf("%s=%d, want 1", metrics.DropReasonOriginRejected, got)
		}
	})

	t.Run("allows listed origin", func(t *testing.T) {
		req := get(t, baseURL+"/webrtc/ice")
		req.Header.Set("Origin", "https://lchangra.vercel.app")
		resp := getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://lchangra.vercel.app" {
			t.Fatalf("Access-Control-Allow-Origin=%q", got)
		}
	})

	t.Run("no origin header", func(t *testing.T) {
		resp := getJSON(t, get(t, baseURL+"/healthz"), http.StatusOK, nil)
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("unexpected CORS header %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, baseURL+"/webrtc/ice", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", "https://lchangra.vercel.app")
		req.Header.Set("Access-Control-Request-Method", "GET")
		req.Header.Set("Access-Control-Request-Headers", "x-request-id")
		resp := getJSON(t, req, http.StatusNoContent, nil)
		if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "x-request-id" {
			t.Fatalf("Access-Control-Allow-Headers=%q", got)
		}
	})
}

func TestSameHostOriginAllowedByDefault(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), Options{})

	req := get(t, baseURL+"/healthz")
	req.Header.Set("Origin", baseURL)
	getJSON(t, req, http.StatusOK, nil)

	req = get(t, baseURL+"/healthz")
	req.Header.Set("Origin", "http://other.example")
	getJSON(t, req, http.StatusForbidden, nil)
}

func TestRecoverMiddleware(t *testing.T) {
	srv, baseURL := startTestServer(t, testConfig(), Options{})
	srv.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	getJSON(t, get(t, baseURL+"/boom"), http.StatusInternalServerError, nil)
	getJSON(t, get(t, baseURL+"/healthz"), http.StatusOK, nil)
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	srv, baseURL := startTestServer(t, testConfig(), Options{})
	upgrader := websocket.Upgrader{}
	srv.Mux().HandleFunc("GET /echo", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mt, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(mt, msg)
	})

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/echo", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != "hi" {
		t.Fatalf("echo=%q, want hi", msg)
	}
}
