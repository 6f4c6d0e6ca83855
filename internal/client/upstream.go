// Package client provides the pooled HTTP client used to reach an upstream
// origin. One client is bound per configured endpoint, so its connection pool
// is effectively keyed by the upstream authority.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"revproxy-go/internal/metrics"
	"revproxy-go/internal/model"
)

// Options tunes the upstream transport for one endpoint.
type Options struct {
	// ConnectTimeout bounds dialing the upstream.
	ConnectTimeout time.Duration
	// Timeout bounds the whole exchange, response body included. Zero
	// disables the total deadline.
	Timeout time.Duration
	// IdleReadTimeout bounds the wait for each body chunk from the upstream.
	// When a read stalls longer than this, the in-flight request is aborted.
	// Zero disables the per-chunk bound.
	IdleReadTimeout time.Duration
	// IdleConnections caps pooled idle connections to the upstream.
	IdleConnections int
}

// UpstreamClient sends requests to a single upstream origin, reusing
// connections across invocations. It is safe for concurrent use.
type UpstreamClient struct {
	httpClient      *http.Client
	idleReadTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// New creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        opts.IdleConnections,
		MaxIdleConnsPerHost: opts.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// Redirects are relayed to the client, never followed here, so
			// the layer above sees every hop.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		idleReadTimeout: opts.IdleReadTimeout,
		logger:          logger.With("component", "upstream_client"),
		metrics:         m,
	}
}

// Do executes req against the upstream and returns the raw response. The
// caller owns closing the response body; closing it releases the request.
// The request's context controls its lifetime: when the context is canceled
// (e.g. the client disconnects) the upstream exchange is aborted.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.String(),
	)

	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		cancel()
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       newBody(resp.Body, cancel, c.idleReadTimeout),
	}, nil
}

// body wraps the upstream response stream so that closing it cancels the
// request, and so that a read stalled beyond the idle timeout aborts the
// exchange instead of hanging the relay.
type body struct {
	rc      io.ReadCloser
	cancel  context.CancelFunc
	timeout time.Duration
}

func newBody(rc io.ReadCloser, cancel context.CancelFunc, timeout time.Duration) *body {
	return &body{rc: rc, cancel: cancel, timeout: timeout}
}

func (b *body) Read(p []byte) (int, error) {
	if b.timeout > 0 {
		t := time.AfterFunc(b.timeout, b.cancel)
		defer t.Stop()
	}
	return b.rc.Read(p)
}

func (b *body) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
