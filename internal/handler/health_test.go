package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"revproxy-go/internal/config"
)

func healthTestConfig() *config.Config {
	return &config.Config{Endpoints: []config.EndpointConfig{
		{PathPrefix: "/p", Upstream: "http://origin.example/app"},
		{PathPrefix: "/q", Upstream: "https://other-origin.example"},
	}}
}

func TestHealthz(t *testing.T) {
	h := NewHealthHandler(healthTestConfig(), Version("1.2.3"))

	e := echo.New()
	e.GET("/healthz", h.Healthz)

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	h := NewHealthHandler(healthTestConfig(), Version("1.2.3"))

	e := echo.New()
	e.GET("/proxy/status", h.Status)

	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status    string            `json:"status"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", body.Version, "1.2.3")
	}
	if body.Endpoints["/p"] != "http://origin.example/app" {
		t.Errorf("endpoints[/p] = %q, want the configured upstream", body.Endpoints["/p"])
	}
	if body.Endpoints["/q"] != "https://other-origin.example" {
		t.Errorf("endpoints[/q] = %q, want the configured upstream", body.Endpoints["/q"])
	}
}
