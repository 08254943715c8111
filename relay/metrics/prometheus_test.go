package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExporter_RecordsAndExports(t *testing.T) {
	e := NewExporter(DefaultConfig())

	e.ObserveRequest("/v1/chat/completions", "200", 120*time.Millisecond)
	e.RecordMatch("pattern")
	e.RecordUpstreamError("upstream_timeout")
	e.RecordContextOutcome("injected")
	e.StreamStarted()
	e.SetOpenSessions(2)

	body := scrape(t, e)

	assert.Contains(t, body, `memrelay_requests_total{endpoint="/v1/chat/completions",status="200"} 1`)
	assert.Contains(t, body, `memrelay_user_matches_total{matched="pattern"} 1`)
	assert.Contains(t, body, `memrelay_upstream_errors_total{kind="upstream_timeout"} 1`)
	assert.Contains(t, body, `memrelay_context_retrievals_total{outcome="injected"} 1`)
	assert.Contains(t, body, `memrelay_active_streams 1`)
	assert.Contains(t, body, `memrelay_upstream_sessions 2`)

	e.StreamEnded()
	assert.Contains(t, scrape(t, e), `memrelay_active_streams 0`)
}

func TestExporter_HistogramBuckets(t *testing.T) {
	e := NewExporter(Config{LatencyBuckets: []float64{0.1, 1}})

	e.ObserveRequest("/health", "200", 50*time.Millisecond)

	body := scrape(t, e)
	assert.True(t, strings.Contains(body, `memrelay_request_duration_seconds_bucket{endpoint="/health",le="0.1"} 1`))
}
