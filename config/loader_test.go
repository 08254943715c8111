package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
routing:
  custom_header: x-sm-user-id
  default_user_id: default-user
  patterns:
    - header: User-Agent
      pattern: "OpenAIClientImpl/Java"
      user_id: pycharm-ai
    - header: user-agent
      pattern: "curl/"
      user_id: cli-user
models:
  - name: gpt-4
    upstream_base_url: https://api.example.com/v1
    upstream_model: gpt-4-0613
    api_key: sk-test
  - name: local
    upstream_base_url: http://localhost:8000/v1
    disable_context: true
context:
  enabled: true
  base_url: https://memory.example.com
  api_key: mem-key
  query_strategy: last-user
  inject_strategy: system-prepend
  max_entries: 3
  max_chars: 2000
  timeout_seconds: 4
upstream:
  response_timeout_seconds: 300
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "x-sm-user-id", cfg.Routing.CustomHeader)
	assert.Equal(t, DefaultUserIDHeader, cfg.Routing.ForwardHeader, "forward header defaults when unset")
	assert.Equal(t, "default-user", cfg.Routing.DefaultUserID)

	require.Len(t, cfg.Routing.Patterns, 2)
	assert.Equal(t, "user-agent", cfg.Routing.Patterns[0].Header, "header names are lower-cased")
	assert.True(t, cfg.Routing.Patterns[0].Regex.MatchString("OpenAIClientImpl/Java 2024.1"))

	entry, ok := cfg.Model("gpt-4")
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/v1", entry.UpstreamBase)
	assert.Equal(t, "gpt-4-0613", entry.UpstreamModel)
	assert.False(t, entry.DisableContext)

	local, ok := cfg.Model("local")
	require.True(t, ok)
	assert.True(t, local.DisableContext)

	_, ok = cfg.Model("missing")
	assert.False(t, ok)

	assert.True(t, cfg.Context.Enabled)
	assert.Equal(t, 3, cfg.Context.MaxEntries)
	assert.Equal(t, 4*time.Second, cfg.Context.Timeout)
	assert.Equal(t, 300*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, []string{"gpt-4", "local"}, cfg.ModelNames())
}

func TestLoad_BadRegexDropped(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
routing:
  patterns:
    - header: user-agent
      pattern: "([unclosed"
      user_id: broken
    - header: user-agent
      pattern: "curl/"
      user_id: cli-user
models:
  - name: gpt-4
    upstream_base_url: https://api.example.com/v1
`))
	require.NoError(t, err, "a bad pattern must not fail the whole load")

	require.Len(t, cfg.Routing.Patterns, 1)
	assert.Equal(t, "cli-user", cfg.Routing.Patterns[0].UserID)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
models:
  - name: gpt-4
    upstream_base_url: https://api.example.com/v1
`))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Routing.DefaultUserID)
	assert.Equal(t, DefaultUserIDHeader, cfg.Routing.ForwardHeader)
	assert.False(t, cfg.Context.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.UpstreamTimeout)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"no models", `
routing:
  default_user_id: u
`},
		{"duplicate model", `
models:
  - name: gpt-4
    upstream_base_url: https://a.example.com
  - name: gpt-4
    upstream_base_url: https://b.example.com
`},
		{"bad upstream scheme", `
models:
  - name: gpt-4
    upstream_base_url: ftp://a.example.com
`},
		{"context without credential", `
models:
  - name: gpt-4
    upstream_base_url: https://a.example.com
context:
  enabled: true
  base_url: https://memory.example.com
`},
		{"allow and deny both set", `
models:
  - name: gpt-4
    upstream_base_url: https://a.example.com
context:
  enabled: true
  base_url: https://memory.example.com
  api_key: k
  allow_models: [gpt-4]
  deny_models: [local]
`},
		{"unknown query strategy", `
models:
  - name: gpt-4
    upstream_base_url: https://a.example.com
context:
  enabled: true
  base_url: https://memory.example.com
  api_key: k
  query_strategy: middle-user
`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}
