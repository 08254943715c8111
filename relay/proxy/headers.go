package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-scoped per RFC 7230 §6.1 and must not be
// forwarded in either direction.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// copyHeaders copies src into dst, skipping hop-by-hop headers and any
// header nominated by the Connection header itself.
func copyHeaders(dst, src http.Header) {
	connectionScoped := map[string]struct{}{}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connectionScoped[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}

	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := hopByHopHeaders[canonical]; hop {
			continue
		}
		if _, hop := connectionScoped[canonical]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(canonical, v)
		}
	}
}

// buildForwardHeaders derives the outbound header set from the client's
// headers: hop-by-hop and Host stripped, Authorization replaced with the
// model's credential when one is configured (otherwise the client's own
// Authorization passes through), and the user-id header forced to the
// resolved id.
func buildForwardHeaders(client http.Header, apiKey, userIDHeader, userID string) http.Header {
	out := make(http.Header, len(client))
	copyHeaders(out, client)

	// Content-Length is managed by the outbound request itself.
	out.Del("Content-Length")
	out.Del("Host")

	if apiKey != "" {
		out.Set("Authorization", "Bearer "+apiKey)
	}
	if userIDHeader != "" {
		out.Set(userIDHeader, userID)
	}
	return out
}

// joinUpstreamURL joins an upstream base with the original request path,
// collapsing the shared /v1 segment so a base of https://host/v1 and a path
// of /v1/chat/completions reach https://host/v1/chat/completions.
func joinUpstreamURL(base, path string) string {
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1/") {
		return base[:len(base)-len("/v1")] + path
	}
	return base + path
}
