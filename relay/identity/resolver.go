// Package identity resolves the memory-routing user id for a request.
package identity

import (
	"net/http"
	"strings"

	"github.com/hrygo/memrelay/config"
)

// MatchKind tags how a user id was resolved.
type MatchKind string

const (
	// MatchCustomHeader means the client supplied the custom header directly.
	MatchCustomHeader MatchKind = "custom-header"
	// MatchPattern means a configured header pattern matched.
	MatchPattern MatchKind = "pattern"
	// MatchDefault means nothing matched and the default id was used.
	MatchDefault MatchKind = "default"
)

// PatternMatch describes the pattern that produced a resolution.
type PatternMatch struct {
	Header  string `json:"header"`
	Pattern string `json:"pattern"`
	UserID  string `json:"user_id"`
}

// Resolution is the outcome of resolving a request's headers. It doubles as
// the payload of the /memory-routing/info diagnostics endpoint.
type Resolution struct {
	UserID              string        `json:"user_id"`
	Matched             MatchKind     `json:"matched"`
	Pattern             *PatternMatch `json:"matched_pattern"`
	CustomHeaderPresent bool          `json:"custom_header_present"`
	IsDefault           bool          `json:"is_default"`
}

// Resolver assigns user ids from request headers. It is a pure function of
// the immutable routing config and is safe for concurrent use.
type Resolver struct {
	routing *config.RoutingConfig
}

// NewResolver creates a resolver over the given routing config.
func NewResolver(routing *config.RoutingConfig) *Resolver {
	return &Resolver{routing: routing}
}

// Resolve produces a user id for the given headers. It never fails: the
// custom header wins when present with a non-empty value, then patterns in
// configuration order, then the default id.
func (r *Resolver) Resolve(headers http.Header) Resolution {
	if r.routing.CustomHeader != "" {
		value := headerValue(headers, r.routing.CustomHeader)
		if value != "" {
			return Resolution{
				UserID:              value,
				Matched:             MatchCustomHeader,
				CustomHeaderPresent: true,
			}
		}
	}

	for i := range r.routing.Patterns {
		p := &r.routing.Patterns[i]
		value := headerValue(headers, p.Header)
		if value == "" {
			continue
		}
		// Unanchored search; patterns anchor themselves when they need to.
		if p.Regex.MatchString(value) {
			return Resolution{
				UserID:  p.UserID,
				Matched: MatchPattern,
				Pattern: &PatternMatch{
					Header:  p.Header,
					Pattern: p.Regex.String(),
					UserID:  p.UserID,
				},
			}
		}
	}

	return Resolution{
		UserID:    r.routing.DefaultUserID,
		Matched:   MatchDefault,
		IsDefault: true,
	}
}

// headerValue looks up a header case-insensitively, joining repeated values
// with ", " so patterns see the full canonical value.
func headerValue(headers http.Header, name string) string {
	values := headers.Values(name)
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, ", ")
}
