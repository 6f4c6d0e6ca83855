// Package relay turns an upstream response into the final client-facing
// response: headers filtered, redirect targets mapped back into the public
// namespace, body streamed through untouched.
package relay

import (
	"log/slog"
	"mime"
	"net/http"
	"path"

	"revproxy-go/internal/headers"
	"revproxy-go/internal/model"
	"revproxy-go/internal/rewrite"
)

// Options controls per-endpoint relay behavior.
type Options struct {
	// RewriteRedirects maps Location targets under the upstream base back
	// into the public namespace, so clients are redirected through the proxy.
	RewriteRedirects bool
	// DefaultContentType is used when the upstream response carries none and
	// the request path extension gives no hint.
	DefaultContentType string
}

// redirectStatuses are the responses whose Location header is rewritten.
// Redirects are relayed, never followed: the layer above must see every hop.
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true, // 301
	http.StatusFound:             true, // 302
	http.StatusSeeOther:          true, // 303
	http.StatusTemporaryRedirect: true, // 307
	http.StatusPermanentRedirect: true, // 308
}

// Relay builds the ProxyResponse for one upstream response. The body stream
// is handed through without buffering; a Content-Length surviving the header
// filter keeps the upstream framing, anything else is re-framed by the outer
// transport.
func Relay(ur *model.UpstreamResponse, pr *model.ProxyRequest, target model.UpstreamTarget, opts Options, logger *slog.Logger) *model.ProxyResponse {
	h := headers.FilterResponse(ur.Header)
	rw := rewrite.New(target, pr.PublicBase)

	if opts.RewriteRedirects && redirectStatuses[ur.StatusCode] {
		rewriteHeader(h, "Location", rw, logger)
	}
	rewriteHeader(h, "Content-Location", rw, logger)

	if cookies := h["Set-Cookie"]; len(cookies) > 0 {
		rewritten := make([]string, len(cookies))
		for i, v := range cookies {
			rewritten[i] = rw.RewriteSetCookie(v)
		}
		h["Set-Cookie"] = rewritten
	}

	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", guessContentType(pr.Path, opts.DefaultContentType))
	}

	return &model.ProxyResponse{
		StatusCode: ur.StatusCode,
		Header:     h,
		Body:       ur.Body,
	}
}

// rewriteHeader maps one URL-valued header into the public namespace. A
// target outside the upstream base points elsewhere and passes through
// unmodified; that is not an error.
func rewriteHeader(h http.Header, name string, rw *rewrite.Rewriter, logger *slog.Logger) {
	v := h.Get(name)
	if v == "" {
		return
	}
	rewritten, ok := rw.ToPublic(v)
	if !ok {
		logger.Debug("rewrite skipped, target outside upstream base",
			"header", name,
			"value", v,
		)
		return
	}
	h.Set(name, rewritten)
}

// guessContentType resolves a fallback Content-Type from the request path
// extension, then the endpoint default.
func guessContentType(requestPath, fallback string) string {
	if ct := mime.TypeByExtension(path.Ext(requestPath)); ct != "" {
		return ct
	}
	if fallback != "" {
		return fallback
	}
	return "application/json"
}
