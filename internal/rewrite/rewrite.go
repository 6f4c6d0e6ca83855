// Package rewrite maps URLs between the public namespace (as seen by the
// client) and the upstream namespace (as seen by the origin), in both
// directions. Percent-encoding is preserved byte-for-byte: already-encoded
// sequences are never re-encoded.
package rewrite

import (
	"net/url"
	"strings"

	"revproxy-go/internal/model"
)

// Rewriter performs public<->upstream URL mapping for one proxy invocation.
// It pairs the endpoint's configured upstream target with the public base
// captured from the inbound request, so it is built per request; construction
// is a plain struct copy.
type Rewriter struct {
	target model.UpstreamTarget
	public model.PublicBase
}

// New returns a Rewriter for the given target and public base.
func New(target model.UpstreamTarget, public model.PublicBase) *Rewriter {
	return &Rewriter{target: target, public: public}
}

// ToUpstream builds the outbound request URL from the captured wildcard path
// remainder (percent-encoded form) and the original raw query string. The
// query is carried through without re-encoding.
func (r *Rewriter) ToUpstream(pathRemainder, rawQuery string) *url.URL {
	u := &url.URL{
		Scheme:   r.target.Scheme,
		Host:     r.target.Host,
		RawQuery: rawQuery,
	}
	escaped := r.target.BasePath + pathRemainder
	if escaped == "" {
		escaped = "/"
	}
	setEscapedPath(u, escaped)
	return u
}

// ToPublic maps an upstream URL back into the public namespace. The rewrite
// applies only when the URL's scheme and authority match the target and its
// path falls under the target's base path (prefix match, not full-string
// match); anything else points elsewhere and is returned unmodified with
// ok=false. Host-relative URLs are treated as upstream-relative and rewritten
// by path prefix alone.
func (r *Rewriter) ToPublic(raw string) (rewritten string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}

	if u.Scheme == "" && u.Host == "" {
		rest, match := r.trimBasePath(u.EscapedPath())
		if !match {
			return raw, false
		}
		return r.public.Prefix + rest + querySuffix(u), true
	}

	if !strings.EqualFold(u.Scheme, r.target.Scheme) || !strings.EqualFold(u.Host, r.target.Host) {
		return raw, false
	}
	rest, match := r.trimBasePath(u.EscapedPath())
	if !match {
		return raw, false
	}
	return r.public.URL() + rest + querySuffix(u), true
}

// RewriteSetCookie adjusts the Domain and Path attributes of one Set-Cookie
// value when they explicitly scope the cookie to the upstream; attributes
// scoped elsewhere are left untouched. Each Set-Cookie value is handled
// independently.
func (r *Rewriter) RewriteSetCookie(value string) string {
	parts := strings.Split(value, ";")
	changed := false
	for i, part := range parts {
		name, attrValue, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		trimmedName := strings.TrimSpace(name)
		attrValue = strings.TrimSpace(attrValue)
		switch {
		case strings.EqualFold(trimmedName, "Domain"):
			if hostMatches(attrValue, r.target.Host) {
				parts[i] = name + "=" + hostname(r.public.Host)
				changed = true
			}
		case strings.EqualFold(trimmedName, "Path"):
			if rest, match := r.trimBasePath(attrValue); match {
				p := r.public.Prefix + rest
				if p == "" {
					p = "/"
				}
				parts[i] = name + "=" + p
				changed = true
			}
		}
	}
	if !changed {
		return value
	}
	return strings.Join(parts, ";")
}

// trimBasePath strips the target's base path from an escaped path, reporting
// whether the path falls under the base at a path-segment boundary.
func (r *Rewriter) trimBasePath(escapedPath string) (rest string, ok bool) {
	base := r.target.BasePath
	if base == "" {
		return escapedPath, true
	}
	if escapedPath == base {
		return "", true
	}
	if strings.HasPrefix(escapedPath, base+"/") {
		return strings.TrimPrefix(escapedPath, base), true
	}
	return "", false
}

// setEscapedPath stores an already-encoded path on u so that u.EscapedPath()
// reproduces it byte-for-byte.
func setEscapedPath(u *url.URL, escaped string) {
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		// Not valid percent-encoding; pass the raw bytes through as-is.
		u.Path = escaped
		return
	}
	u.Path = decoded
	if decoded != escaped {
		u.RawPath = escaped
	}
}

func querySuffix(u *url.URL) string {
	s := ""
	if u.RawQuery != "" || u.ForceQuery {
		s = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		s += "#" + u.EscapedFragment()
	}
	return s
}

// hostMatches compares a cookie Domain attribute against the upstream
// authority, ignoring the port and a leading dot.
func hostMatches(domain, authority string) bool {
	return strings.EqualFold(strings.TrimPrefix(domain, "."), hostname(authority))
}

// hostname strips the port from an authority, if present.
func hostname(authority string) string {
	if i := strings.LastIndex(authority, ":"); i >= 0 && !strings.Contains(authority[i:], "]") {
		return authority[:i]
	}
	return authority
}
