// Package service implements the proxy orchestrator: it sequences forwarding
// and relaying for one invocation and owns the single mapping from transport
// failure kinds to HTTP status codes.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"revproxy-go/internal/client"
	"revproxy-go/internal/config"
	"revproxy-go/internal/forward"
	"revproxy-go/internal/metrics"
	"revproxy-go/internal/model"
	"revproxy-go/internal/relay"
	"revproxy-go/internal/rewrite"
)

// Endpoint is one configured proxy binding: a public path prefix wired to a
// fixed upstream target, with its own pooled client and forwarding policy.
type Endpoint struct {
	PathPrefix string
	Target     model.UpstreamTarget

	rules     []rewrite.Rule
	forwarder *forward.Forwarder
	relayOpts relay.Options
}

// ProxyService orchestrates proxy invocations across all configured endpoints.
// Invocations are independent and stateless; the per-endpoint connection pool
// is the only shared mutable resource.
type ProxyService struct {
	endpoints []*Endpoint
	logger    *slog.Logger
}

// NewProxyService builds one Endpoint per configured entry. Configuration was
// validated at load time, so failures here indicate a bug, not user input.
func NewProxyService(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	logger = logger.With("component", "proxy_service")

	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ec := &cfg.Endpoints[i]

		target, err := ec.Target()
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ec.PathPrefix, err)
		}
		rules, err := rewrite.CompileRules(ec.Rewrite)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ec.PathPrefix, err)
		}

		upstream := client.New(client.Options{
			ConnectTimeout:  time.Duration(ec.ConnectTimeoutSeconds) * time.Second,
			Timeout:         time.Duration(ec.TimeoutSeconds) * time.Second,
			IdleReadTimeout: time.Duration(ec.IdleReadTimeoutSeconds) * time.Second,
			IdleConnections: ec.IdleConnections,
		}, logger, m)

		endpoints = append(endpoints, &Endpoint{
			PathPrefix: ec.PathPrefix,
			Target:     target,
			rules:      rules,
			forwarder: forward.New(upstream, target, forward.Options{
				RetryIdempotent:   ec.RetryIdempotent,
				ForwardRemoteUser: ec.ForwardRemoteUser,
			}, logger),
			relayOpts: relay.Options{
				RewriteRedirects:   ec.RedirectRewriteEnabled(),
				DefaultContentType: ec.DefaultContentType,
			},
		})
	}

	return &ProxyService{endpoints: endpoints, logger: logger}, nil
}

// Endpoints returns the configured endpoints for route registration.
func (s *ProxyService) Endpoints() []*Endpoint { return s.endpoints }

// Proxy runs one invocation end to end: local rewrite rules first, then
// forward, then relay. It always produces a ProxyResponse; transport failures
// become 502/504 responses with a minimal diagnostic body and no upstream
// headers. This is the only place a failure kind turns into a status code.
func (s *ProxyService) Proxy(pr *model.ProxyRequest, ep *Endpoint) *model.ProxyResponse {
	if redirectTo, ok := rewrite.Apply(ep.rules, fullPathWithQuery(pr)); ok {
		s.logger.Debug("local rewrite rule matched",
			"path", pr.FullPath(),
			"redirect_to", redirectTo,
		)
		return redirectResponse(redirectTo)
	}

	ur, err := ep.forwarder.Forward(pr)
	if err != nil {
		return s.errorResponse(pr, err)
	}

	return relay.Relay(ur, pr, ep.Target, ep.relayOpts, s.logger)
}

// errorResponse synthesizes the client-facing response for a failed upstream
// exchange: 502 for connection failures, 504 for timeouts.
func (s *ProxyService) errorResponse(pr *model.ProxyRequest, err error) *model.ProxyResponse {
	status := http.StatusBadGateway
	message := "upstream request failed"

	var terr *forward.TransportError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case forward.KindReadTimeout, forward.KindWriteTimeout:
			status = http.StatusGatewayTimeout
			message = "upstream request timed out"
		case forward.KindConnectionReset:
			message = "upstream connection reset"
		default:
			message = "upstream connection failed"
		}
	}

	s.logger.Error("proxy error",
		"err", err,
		"method", pr.Method,
		"path", pr.FullPath(),
		"status", status,
	)

	return syntheticResponse(status, http.Header{
		"Content-Type": {"application/json"},
	}, fmt.Sprintf(`{"error":%q}`+"\n", message))
}

// redirectResponse answers a matching local rewrite rule without contacting
// the upstream.
func redirectResponse(location string) *model.ProxyResponse {
	return syntheticResponse(http.StatusFound, http.Header{
		"Location": {location},
	}, "")
}

func syntheticResponse(status int, h http.Header, body string) *model.ProxyResponse {
	return &model.ProxyResponse{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fullPathWithQuery is the rewrite-rule matching input: the complete public
// path with the raw query appended when present.
func fullPathWithQuery(pr *model.ProxyRequest) string {
	if pr.RawQuery == "" {
		return pr.FullPath()
	}
	return pr.FullPath() + "?" + pr.RawQuery
}
