// Package model defines shared types for the proxy core.
package model

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// UpstreamTarget is the origin a configured endpoint forwards to.
// Immutable once bound to an endpoint.
type UpstreamTarget struct {
	Scheme   string // "http" or "https"
	Host     string // authority, including optional port
	BasePath string // normalized base path, "" or "/prefix" without trailing slash
}

// BaseURL returns the target as scheme://host/basepath.
func (t UpstreamTarget) BaseURL() string {
	return t.Scheme + "://" + t.Host + t.BasePath
}

// PublicBase is the client-facing counterpart of an UpstreamTarget: the
// scheme, host and mount prefix under which the proxy endpoint is reachable.
// The host is whatever the client used, so it is captured per request rather
// than configured.
type PublicBase struct {
	Scheme string
	Host   string
	Prefix string // endpoint mount prefix, "" or "/prefix" without trailing slash
}

// URL returns the base as scheme://host/prefix.
func (b PublicBase) URL() string {
	return b.Scheme + "://" + b.Host + b.Prefix
}

// ProxyRequest is the inbound request as seen by the proxy core. It is built
// once by the hosting layer and only read afterwards; the body stream is
// consumed exactly once while forwarding.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the captured wildcard remainder below the endpoint prefix, in
	// its original percent-encoded form. Either "" or starting with "/".
	Path string
	// RawQuery is the query string exactly as received, never re-encoded.
	RawQuery   string
	Header     http.Header
	Body       io.ReadCloser
	PublicBase PublicBase
	RemoteAddr string
	// RemoteUser is the authenticated principal supplied by the hosting
	// layer, or "" when anonymous. Forwarded upstream only when the endpoint
	// opts in.
	RemoteUser string
}

// FullPath returns the complete public path of the request, prefix included.
func (r *ProxyRequest) FullPath() string {
	p := r.PublicBase.Prefix + r.Path
	if p == "" {
		return "/"
	}
	return p
}

// UpstreamResponse is the raw response received from the origin. Consumed
// once by the relay; the consumer owns closing the body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResponse is the final response handed back to the hosting layer, which
// serializes it to the original client unchanged.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// NormalizeBasePath trims a trailing slash and ensures a leading one, so path
// concatenation never produces "//" or a missing separator. Root becomes the
// empty string.
func NormalizeBasePath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
