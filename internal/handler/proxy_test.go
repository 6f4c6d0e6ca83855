package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"revproxy-go/internal/config"
	"revproxy-go/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEcho wires a ProxyHandler for one endpoint at /p onto a fresh Echo.
func newTestEcho(t *testing.T, upstreamURL string) *echo.Echo {
	t.Helper()

	cfg := &config.Config{Endpoints: []config.EndpointConfig{{
		PathPrefix:     "/p",
		Upstream:       upstreamURL,
		TimeoutSeconds: 5,
	}}}

	svc, err := service.NewProxyService(cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewProxyService() error = %v", err)
	}

	h := NewProxyHandler(svc, testLogger())
	e := echo.New()
	for _, ep := range svc.Endpoints() {
		fn := h.Endpoint(ep)
		e.Any(ep.PathPrefix, fn)
		e.Any(ep.PathPrefix+"/*", fn)
	}
	return e
}

func TestEndpoint_ForwardsAndRelays(t *testing.T) {
	var gotPath, gotMethod, gotForwardedHost string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Origin", "yes")
		_, _ = w.Write([]byte("pong"))
	}))
	defer ts.Close()

	e := newTestEcho(t, ts.URL)

	req := httptest.NewRequest(http.MethodPost, "http://proxy.example/p/ping?x=1", strings.NewReader("ping"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "pong" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "pong")
	}
	if gotPath != "/ping" {
		t.Errorf("upstream path = %q, want %q", gotPath, "/ping")
	}
	if gotMethod != http.MethodPost {
		t.Errorf("upstream method = %q, want POST", gotMethod)
	}
	if gotForwardedHost != "proxy.example" {
		t.Errorf("X-Forwarded-Host = %q, want %q", gotForwardedHost, "proxy.example")
	}
	if rec.Header().Get("X-Origin") != "yes" {
		t.Error("upstream header not relayed")
	}
}

func TestEndpoint_EncodedPathPreserved(t *testing.T) {
	var gotEscapedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscapedPath = r.URL.EscapedPath()
	}))
	defer ts.Close()

	e := newTestEcho(t, ts.URL)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/p/a%2Fb/c%20d", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotEscapedPath != "/a%2Fb/c%20d" {
		t.Errorf("upstream escaped path = %q, want %q", gotEscapedPath, "/a%2Fb/c%20d")
	}
}

func TestEndpoint_HopByHopNotRelayedToClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Hop", "v")
		w.Header().Set("Connection", "X-Hop")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	e := newTestEcho(t, ts.URL)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/p/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get("X-Hop") != "" {
		t.Error("Connection-listed header relayed to client")
	}
}

func TestEndpoint_ErrorResponseFromOrchestrator(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstreamURL := ts.URL
	ts.Close()

	e := newTestEcho(t, upstreamURL)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/p/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %q, want a diagnostic", rec.Body.String())
	}
}

func TestEndpoint_RemoteUserFromContext(t *testing.T) {
	var gotRemoteUser string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRemoteUser = r.Header.Get("Remote-User")
	}))
	defer ts.Close()

	cfg := &config.Config{Endpoints: []config.EndpointConfig{{
		PathPrefix:        "/p",
		Upstream:          ts.URL,
		TimeoutSeconds:    5,
		ForwardRemoteUser: true,
	}}}
	svc, err := service.NewProxyService(cfg, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := NewProxyHandler(svc, testLogger())

	e := echo.New()
	// Stand-in for the hosting layer's auth middleware.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(RemoteUserKey, "alice")
			return next(c)
		}
	})
	ep := svc.Endpoints()[0]
	e.Any(ep.PathPrefix+"/*", h.Endpoint(ep))

	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/p/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotRemoteUser != "alice" {
		t.Errorf("Remote-User = %q, want %q", gotRemoteUser, "alice")
	}
}

func TestPathRemainder(t *testing.T) {
	tests := []struct {
		escapedPath string
		prefix      string
		want        string
	}{
		{"/p/x", "/p", "/x"},
		{"/p", "/p", ""},
		{"/p/a%2Fb", "/p", "/a%2Fb"},
		{"/anything", "", "/anything"},
	}
	for _, tt := range tests {
		if got := pathRemainder(tt.escapedPath, tt.prefix); got != tt.want {
			t.Errorf("pathRemainder(%q, %q) = %q, want %q", tt.escapedPath, tt.prefix, got, tt.want)
		}
	}
}
