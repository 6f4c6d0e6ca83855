// Package forward builds the outbound request for one proxy invocation and
// dispatches it over the pooled upstream transport.
package forward

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"revproxy-go/internal/headers"
	"revproxy-go/internal/model"
	"revproxy-go/internal/rewrite"
)

// Doer executes one upstream HTTP exchange. Satisfied by
// client.UpstreamClient; tests substitute a fake.
type Doer interface {
	Do(req *http.Request) (*model.UpstreamResponse, error)
}

// Options controls per-endpoint forwarding behavior.
type Options struct {
	// RetryIdempotent allows one retry of GET/HEAD/OPTIONS/TRACE on a
	// connection-level failure. Non-idempotent methods are never retried.
	RetryIdempotent bool
	// ForwardRemoteUser sends the authenticated principal upstream as a
	// Remote-User header when the hosting layer supplied one.
	ForwardRemoteUser bool
}

// idempotentMethods may be retried once on a connection-level failure.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Forwarder turns a ProxyRequest into an upstream exchange for one configured
// endpoint. The method is opaque data: all of HEAD, GET, POST, PUT, DELETE,
// OPTIONS, TRACE, CONNECT and PATCH pass through verbatim.
type Forwarder struct {
	client Doer
	target model.UpstreamTarget
	opts   Options
	logger *slog.Logger
}

// New creates a Forwarder bound to one upstream target.
func New(client Doer, target model.UpstreamTarget, opts Options, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		target: target,
		opts:   opts,
		logger: logger.With("component", "forwarder"),
	}
}

// Forward sends the request upstream and returns the raw response. Transport
// failures come back as *TransportError, tagged for the orchestrator's status
// mapping; they are retried only per the idempotent-method policy, never on
// any received status code.
func (f *Forwarder) Forward(pr *model.ProxyRequest) (*model.UpstreamResponse, error) {
	req, err := f.buildRequest(pr)
	if err != nil {
		return nil, err
	}

	resp, doErr := f.client.Do(req)
	if doErr == nil {
		return resp, nil
	}

	terr := Classify(doErr)
	if !f.shouldRetry(pr.Method, req, terr) {
		return nil, terr
	}

	f.logger.Debug("retrying after connection-level failure",
		"method", pr.Method,
		"kind", terr.Kind.String(),
	)

	retryReq, err := f.buildRequest(pr)
	if err != nil {
		return nil, terr
	}
	resp, doErr = f.client.Do(retryReq)
	if doErr != nil {
		return nil, Classify(doErr)
	}
	return resp, nil
}

func (f *Forwarder) buildRequest(pr *model.ProxyRequest) (*http.Request, error) {
	rw := rewrite.New(f.target, pr.PublicBase)
	u := rw.ToUpstream(pr.Path, pr.RawQuery)

	body := pr.Body
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	// NewRequest re-parses the URL string; install the exact URL so the
	// percent-encoded path bytes reach the wire untouched.
	req.URL = u

	req.Header = headers.FilterRequest(pr.Header)
	req.Host = f.target.Host

	// Preserve the inbound framing: a declared length stays a declared
	// length, anything else streams chunked.
	if cl := pr.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			req.ContentLength = n
		}
	}

	f.setForwardingHeaders(req, pr)
	return req, nil
}

// setForwardingHeaders appends the client to the X-Forwarded-For chain and
// records the public scheme and host the client used.
func (f *Forwarder) setForwardingHeaders(req *http.Request, pr *model.ProxyRequest) {
	if clientIP, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil {
		chain := clientIP
		if prior := pr.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			chain = strings.Join(prior, ", ") + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", chain)
	}
	if pr.PublicBase.Scheme != "" {
		req.Header.Set("X-Forwarded-Proto", pr.PublicBase.Scheme)
	}
	if pr.PublicBase.Host != "" {
		req.Header.Set("X-Forwarded-Host", pr.PublicBase.Host)
	}
	if f.opts.ForwardRemoteUser && pr.RemoteUser != "" {
		req.Header.Set("Remote-User", pr.RemoteUser)
	}
}

// shouldRetry allows one retry for idempotent methods on connection-level
// failures only. A request whose body stream may have been consumed is never
// replayed.
func (f *Forwarder) shouldRetry(method string, req *http.Request, terr *TransportError) bool {
	if !f.opts.RetryIdempotent || !idempotentMethods[method] {
		return false
	}
	if terr.Kind != KindConnectFailed && terr.Kind != KindConnectionReset {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
