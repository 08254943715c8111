package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/memrelay/config"
)

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(&config.RateLimitConfig{Enabled: false})
	assert.Nil(t, l)
	// A nil limiter allows everything.
	assert.True(t, l.Allow("anyone"))
}

func TestRateLimiter_PerUser(t *testing.T) {
	l := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1})

	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"), "burst exhausted for alice")
	assert.True(t, l.Allow("bob"), "limits are per user")
}
