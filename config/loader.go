package config

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// rawConfig mirrors the YAML file shape before validation.
type rawConfig struct {
	Routing struct {
		CustomHeader  string `mapstructure:"custom_header"`
		ForwardHeader string `mapstructure:"forward_header"`
		DefaultUserID string `mapstructure:"default_user_id"`
		Patterns      []struct {
			Header  string `mapstructure:"header"`
			Pattern string `mapstructure:"pattern"`
			UserID  string `mapstructure:"user_id"`
		} `mapstructure:"patterns"`
	} `mapstructure:"routing"`
	Models []struct {
		Name           string `mapstructure:"name"`
		UpstreamBase   string `mapstructure:"upstream_base_url"`
		UpstreamModel  string `mapstructure:"upstream_model"`
		APIKey         string `mapstructure:"api_key"`
		DisableContext bool   `mapstructure:"disable_context"`
	} `mapstructure:"models"`
	Context struct {
		Enabled        bool     `mapstructure:"enabled"`
		BaseURL        string   `mapstructure:"base_url"`
		APIKey         string   `mapstructure:"api_key"`
		QueryStrategy  string   `mapstructure:"query_strategy"`
		InjectStrategy string   `mapstructure:"inject_strategy"`
		MaxEntries     int      `mapstructure:"max_entries"`
		MaxChars       int      `mapstructure:"max_chars"`
		Separator      string   `mapstructure:"separator"`
		TimeoutSeconds int      `mapstructure:"timeout_seconds"`
		AllowModels    []string `mapstructure:"allow_models"`
		DenyModels     []string `mapstructure:"deny_models"`
	} `mapstructure:"context"`
	RateLimit struct {
		Enabled bool    `mapstructure:"enabled"`
		RPS     float64 `mapstructure:"rps"`
		Burst   int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
	Upstream struct {
		ResponseTimeoutSeconds int `mapstructure:"response_timeout_seconds"`
	} `mapstructure:"upstream"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	return build(&raw)
}

func build(raw *rawConfig) (*Config, error) {
	routing, err := buildRouting(raw)
	if err != nil {
		return nil, err
	}

	models, err := buildModels(raw)
	if err != nil {
		return nil, err
	}

	ctxCfg, err := buildContext(raw)
	if err != nil {
		return nil, err
	}

	rl := RateLimitConfig{
		Enabled: raw.RateLimit.Enabled,
		RPS:     raw.RateLimit.RPS,
		Burst:   raw.RateLimit.Burst,
	}
	if rl.Enabled {
		if rl.RPS <= 0 {
			rl.RPS = 5
		}
		if rl.Burst <= 0 {
			rl.Burst = 10
		}
	}

	upstreamTimeout := time.Duration(raw.Upstream.ResponseTimeoutSeconds) * time.Second
	if upstreamTimeout <= 0 {
		upstreamTimeout = 10 * time.Minute
	}

	return NewConfig(routing, models, ctxCfg, rl, upstreamTimeout), nil
}

func buildRouting(raw *rawConfig) (RoutingConfig, error) {
	routing := RoutingConfig{
		CustomHeader:  raw.Routing.CustomHeader,
		ForwardHeader: raw.Routing.ForwardHeader,
		DefaultUserID: raw.Routing.DefaultUserID,
	}
	if routing.ForwardHeader == "" {
		routing.ForwardHeader = DefaultUserIDHeader
	}
	if routing.DefaultUserID == "" {
		routing.DefaultUserID = "default"
	}

	for _, p := range raw.Routing.Patterns {
		if p.Header == "" || p.UserID == "" {
			slog.Warn("Dropping routing pattern with empty header or user id", "pattern", p.Pattern)
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			// Bad patterns are discarded here so matching never fails at request time.
			slog.Warn("Dropping routing pattern with invalid regex",
				"header", p.Header,
				"pattern", p.Pattern,
				"error", err,
			)
			continue
		}
		routing.Patterns = append(routing.Patterns, UserPattern{
			Header: strings.ToLower(p.Header),
			Regex:  re,
			UserID: p.UserID,
		})
	}
	return routing, nil
}

func buildModels(raw *rawConfig) ([]ModelEntry, error) {
	if len(raw.Models) == 0 {
		return nil, errors.New("at least one model must be configured")
	}

	models := make([]ModelEntry, 0, len(raw.Models))
	seen := make(map[string]struct{}, len(raw.Models))
	for _, m := range raw.Models {
		if m.Name == "" {
			return nil, errors.New("model entry with empty name")
		}
		if _, exists := seen[m.Name]; exists {
			return nil, errors.Errorf("duplicate model name %s", m.Name)
		}
		seen[m.Name] = struct{}{}

		base, err := normalizeBaseURL(m.UpstreamBase)
		if err != nil {
			return nil, errors.Wrapf(err, "model %s", m.Name)
		}
		models = append(models, ModelEntry{
			Name:           m.Name,
			UpstreamBase:   base,
			UpstreamModel:  m.UpstreamModel,
			APIKey:         m.APIKey,
			DisableContext: m.DisableContext,
		})
	}
	return models, nil
}

func buildContext(raw *rawConfig) (ContextConfig, error) {
	ctxCfg := ContextConfig{
		Enabled:        raw.Context.Enabled,
		APIKey:         raw.Context.APIKey,
		QueryStrategy:  raw.Context.QueryStrategy,
		InjectStrategy: raw.Context.InjectStrategy,
		MaxEntries:     raw.Context.MaxEntries,
		MaxChars:       raw.Context.MaxChars,
		Separator:      raw.Context.Separator,
		Timeout:        time.Duration(raw.Context.TimeoutSeconds) * time.Second,
		AllowModels:    raw.Context.AllowModels,
		DenyModels:     raw.Context.DenyModels,
	}
	if raw.Context.BaseURL != "" {
		base, err := normalizeBaseURL(raw.Context.BaseURL)
		if err != nil {
			return ctxCfg, errors.Wrap(err, "context backend")
		}
		ctxCfg.BaseURL = base
	}
	if ctxCfg.QueryStrategy == "" {
		ctxCfg.QueryStrategy = QueryLastUser
	}
	if ctxCfg.InjectStrategy == "" {
		ctxCfg.InjectStrategy = InjectSystemPrepend
	}
	if ctxCfg.MaxEntries <= 0 {
		ctxCfg.MaxEntries = 5
	}
	if ctxCfg.MaxChars <= 0 {
		ctxCfg.MaxChars = 4000
	}
	if ctxCfg.Separator == "" {
		ctxCfg.Separator = "\n"
	}
	if ctxCfg.Timeout <= 0 {
		ctxCfg.Timeout = 5 * time.Second
	}
	if err := validateContext(&ctxCfg); err != nil {
		return ctxCfg, err
	}
	return ctxCfg, nil
}

func validateContext(c *ContextConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" {
		return errors.New("context retrieval enabled but base_url is empty")
	}
	if c.APIKey == "" {
		return errors.New("context retrieval enabled but api_key is empty")
	}
	switch c.QueryStrategy {
	case QueryLastUser, QueryFirstUser, QueryAllUser, QueryLastAssistant:
	default:
		return errors.Errorf("unknown query strategy %q", c.QueryStrategy)
	}
	switch c.InjectStrategy {
	case InjectSystemPrepend, InjectUserPrefix, InjectUserSuffix:
	default:
		return errors.Errorf("unknown inject strategy %q", c.InjectStrategy)
	}
	if len(c.AllowModels) > 0 && len(c.DenyModels) > 0 {
		return errors.New("context allow_models and deny_models are mutually exclusive")
	}
	return nil
}

func normalizeBaseURL(base string) (string, error) {
	if base == "" {
		return "", errors.New("upstream base URL is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "invalid base URL %s", base)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("base URL %s must use http or https", base)
	}
	if u.Host == "" {
		return "", errors.Errorf("base URL %s has no host", base)
	}
	return strings.TrimRight(base, "/"), nil
}
