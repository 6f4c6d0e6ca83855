package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(opts Options) *UpstreamClient {
	return New(opts, testLogger(), nil)
}

func TestDo_ReturnsUpstreamResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer ts.Close()

	c := testClient(Options{Timeout: 5 * time.Second, IdleConnections: 2})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	if resp.Header.Get("X-Origin") != "yes" {
		t.Error("upstream header missing")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "short and stout" {
		t.Errorf("body = %q", body)
	}
}

func TestDo_DoesNotFollowRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hop" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		t.Errorf("redirect was followed to %s", r.URL.Path)
	}))
	defer ts.Close()

	c := testClient(Options{Timeout: 5 * time.Second})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/hop", http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302 (redirects are relayed, not followed)", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/final" {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/final")
	}
}

func TestDo_TotalTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := testClient(Options{Timeout: 100 * time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, http.NoBody)
	start := time.Now()
	_, err := c.Do(req)
	if err == nil {
		t.Fatal("Do() should time out")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("error should report Timeout(); got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed out after %v, want prompt failure not a hang", elapsed)
	}
}

func TestDo_IdleReadTimeoutAbortsStalledBody(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := testClient(Options{IdleReadTimeout: 100 * time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("first read: n=%d err=%v", n, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := resp.Body.Read(buf)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("stalled read should fail once the idle timeout aborts the request")
		}
	case <-time.After(2 * time.Second):
		t.Error("stalled read hung past the idle timeout")
	}
}

func TestBodyClose_CancelsRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := newBody(io.NopCloser(strings.NewReader("leftover")), cancel, 0)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Close() must cancel the request context")
	}
}
