// Package config holds the typed, validated routing configuration for the relay.
// All structures are immutable after Load; per-request code never re-parses or
// re-compiles anything found here.
package config

import (
	"regexp"
	"time"
)

// Query extraction strategies for the context retriever.
const (
	QueryLastUser      = "last-user"
	QueryFirstUser     = "first-user"
	QueryAllUser       = "all-user"
	QueryLastAssistant = "last-assistant"
)

// Injection strategies for retrieved context.
const (
	InjectSystemPrepend = "system-prepend"
	InjectUserPrefix    = "user-prefix"
	InjectUserSuffix    = "user-suffix"
)

// DefaultUserIDHeader is the header stamped with the memory-routing identity
// on upstream requests when no forward header is configured. The inbound
// client-override header has no default; it is only honoured when set.
const DefaultUserIDHeader = "x-sm-user-id"

// UserPattern assigns a user id when a header value matches a regex.
// Patterns whose regex fails to compile are discarded at load time,
// so Regex is always non-nil here.
type UserPattern struct {
	Header string
	Regex  *regexp.Regexp
	UserID string
}

// RoutingConfig decides which memory-routing identity a request gets.
type RoutingConfig struct {
	// CustomHeader short-circuits pattern matching when present with a
	// non-empty value.
	CustomHeader string
	// ForwardHeader is set to the resolved id on every forwarded request,
	// overriding any client-supplied value.
	ForwardHeader string
	// Patterns are tried in order; first match wins.
	Patterns []UserPattern
	// DefaultUserID is assigned when nothing else matches.
	DefaultUserID string
}

// ModelEntry maps a logical model name to a concrete upstream.
type ModelEntry struct {
	Name           string
	UpstreamBase   string
	UpstreamModel  string
	APIKey         string
	DisableContext bool
}

// ContextConfig drives the optional memory-context preflight.
type ContextConfig struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	QueryStrategy  string
	InjectStrategy string
	MaxEntries     int
	MaxChars       int
	Separator      string
	Timeout        time.Duration
	// AllowModels and DenyModels are mutually exclusive. When AllowModels is
	// non-empty only listed models are enriched; when DenyModels is non-empty
	// listed models are skipped.
	AllowModels []string
	DenyModels  []string
}

// RateLimitConfig bounds per-user request rates on the relay itself.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Config is the process-wide relay configuration.
type Config struct {
	Routing   RoutingConfig
	Models    []ModelEntry
	Context   ContextConfig
	RateLimit RateLimitConfig
	// UpstreamTimeout bounds a single upstream call, including slow
	// streaming generations.
	UpstreamTimeout time.Duration

	modelIndex map[string]*ModelEntry
}

// NewConfig assembles a Config from already-validated parts, indexing models
// by logical name. The loader calls it after validation; tests use it to
// build fixtures directly.
func NewConfig(routing RoutingConfig, models []ModelEntry, ctxCfg ContextConfig, rl RateLimitConfig, upstreamTimeout time.Duration) *Config {
	cfg := &Config{
		Routing:         routing,
		Models:          models,
		Context:         ctxCfg,
		RateLimit:       rl,
		UpstreamTimeout: upstreamTimeout,
		modelIndex:      make(map[string]*ModelEntry, len(models)),
	}
	for i := range cfg.Models {
		cfg.modelIndex[cfg.Models[i].Name] = &cfg.Models[i]
	}
	return cfg
}

// Model looks up a logical model name. The second return is false on a miss.
func (c *Config) Model(name string) (*ModelEntry, bool) {
	entry, ok := c.modelIndex[name]
	return entry, ok
}

// ModelNames returns the logical model names in configuration order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for i := range c.Models {
		names = append(names, c.Models[i].Name)
	}
	return names
}

// ContextEligible reports whether context retrieval applies to the logical model.
func (c *ContextConfig) ContextEligible(model string) bool {
	if !c.Enabled {
		return false
	}
	if len(c.AllowModels) > 0 {
		for _, m := range c.AllowModels {
			if m == model {
				return true
			}
		}
		return false
	}
	for _, m := range c.DenyModels {
		if m == model {
			return false
		}
	}
	return true
}
