// Package headers classifies hop-by-hop versus end-to-end headers and filters
// header sets crossing the proxy boundary. All functions are pure: they never
// mutate their input and allocate a fresh header map.
package headers

import (
	"net/http"
	"strings"
)

// staticHopByHop are the hop-by-hop headers defined by RFC 2616 section
// 13.5.1 and kept for backward compatibility by RFC 7230. Proxy-Connection is
// non-standard but still sent by some clients.
var staticHopByHop = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true, // canonicalized form of TE
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// connectionListed returns the set of header names listed in the message's
// Connection header values, canonicalized. Per RFC 7230 these are hop-by-hop
// for this message only, so the set must be recomputed per message.
func connectionListed(h http.Header) map[string]bool {
	var listed map[string]bool
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" || strings.EqualFold(name, "close") {
				continue
			}
			if listed == nil {
				listed = make(map[string]bool)
			}
			listed[http.CanonicalHeaderKey(name)] = true
		}
	}
	return listed
}

// IsHopByHop reports whether name is hop-by-hop for the message carrying msg
// as its header set: either a member of the standard set, or listed in the
// message's own Connection header.
func IsHopByHop(name string, msg http.Header) bool {
	canonical := http.CanonicalHeaderKey(name)
	if staticHopByHop[canonical] {
		return true
	}
	return connectionListed(msg)[canonical]
}

// FilterRequest returns a copy of an inbound request header set with
// hop-by-hop headers removed, along with headers the proxy must control
// itself: Host is computed fresh from the upstream target by the forwarder.
func FilterRequest(src http.Header) http.Header {
	return filter(src, map[string]bool{"Host": true})
}

// FilterResponse returns a copy of an upstream response header set with
// hop-by-hop headers removed.
func FilterResponse(src http.Header) http.Header {
	return filter(src, nil)
}

func filter(src http.Header, alsoDrop map[string]bool) http.Header {
	listed := connectionListed(src)
	dst := make(http.Header, len(src))
	for name, vals := range src {
		canonical := http.CanonicalHeaderKey(name)
		if staticHopByHop[canonical] || listed[canonical] || alsoDrop[canonical] {
			continue
		}
		dst[canonical] = append([]string(nil), vals...)
	}
	return dst
}
