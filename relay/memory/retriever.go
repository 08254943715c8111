// Package memory enriches outgoing chat requests with context retrieved from
// an external memory backend. Retrieval is an enhancement, never a
// dependency: every failure degrades to forwarding the request unchanged.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hrygo/memrelay/config"
	"github.com/hrygo/memrelay/relay/metrics"
	"github.com/hrygo/memrelay/relay/session"
)

// Retrieval outcomes recorded on metrics.
const (
	outcomeInjected = "injected"
	outcomeSkipped  = "skipped"
	outcomeEmpty    = "empty"
	outcomeFailed   = "failed"
)

// searchRequest is the wire request to the memory backend.
type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// searchResponse is the wire response from the memory backend: an ordered
// list of remembered text entries.
type searchResponse struct {
	Results []struct {
		Memory string `json:"memory"`
	} `json:"results"`
}

// Retriever performs the optional context-retrieval preflight. It holds its
// own persistent session to the memory backend, which may sit behind the same
// kind of challenge layer as the LLM upstreams.
type Retriever struct {
	cfg     *config.ContextConfig
	pool    *session.Pool
	metrics *metrics.Exporter
}

// NewRetriever creates a retriever over the given context config. The pool
// provides the persistent backend session; metrics may be nil.
func NewRetriever(cfg *config.ContextConfig, pool *session.Pool, m *metrics.Exporter) *Retriever {
	return &Retriever{cfg: cfg, pool: pool, metrics: m}
}

// Enrich returns the request body with retrieved context injected into the
// message list, or the body unchanged when the model is ineligible, no query
// can be extracted, the backend fails, or nothing comes back. It never
// returns an error; failures are logged and swallowed.
func (r *Retriever) Enrich(ctx context.Context, body []byte, userID, logicalModel string) []byte {
	if r == nil || !r.cfg.ContextEligible(logicalModel) {
		return body
	}

	query := extractQuery(body, r.cfg.QueryStrategy)
	if query == "" {
		r.record(outcomeSkipped)
		return body
	}

	entries, err := r.search(ctx, query, userID)
	if err != nil {
		slog.Warn("Context retrieval failed, forwarding without enrichment",
			"user_id", userID,
			"model", logicalModel,
			"error", err,
		)
		r.record(outcomeFailed)
		return body
	}
	if len(entries) == 0 {
		r.record(outcomeEmpty)
		return body
	}

	snippet := r.concatenate(entries)
	if snippet == "" {
		r.record(outcomeEmpty)
		return body
	}

	enriched, ok := inject(body, snippet, r.cfg.InjectStrategy)
	if !ok {
		r.record(outcomeSkipped)
		return body
	}

	slog.Debug("Injected retrieved context",
		"user_id", userID,
		"model", logicalModel,
		"entries", len(entries),
		"chars", len(snippet),
	)
	r.record(outcomeInjected)
	return enriched
}

// search calls the memory backend, bounded by the configured timeout.
func (r *Retriever) search(ctx context.Context, query, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(searchRequest{
		Query:  query,
		UserID: userID,
		Limit:  r.cfg.MaxEntries,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	sess, err := r.pool.Get(r.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := sess.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &backendError{status: resp.StatusCode}
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(result.Results))
	for _, item := range result.Results {
		if item.Memory != "" {
			entries = append(entries, item.Memory)
		}
	}
	slog.Debug("Memory backend search completed",
		"results", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return entries, nil
}

// concatenate joins entries with the configured separator, stopping before
// the entry that would push the snippet past the character budget.
func (r *Retriever) concatenate(entries []string) string {
	if len(entries) > r.cfg.MaxEntries {
		entries = entries[:r.cfg.MaxEntries]
	}

	var b []byte
	for _, entry := range entries {
		next := len(b) + len(entry)
		if len(b) > 0 {
			next += len(r.cfg.Separator)
		}
		if next > r.cfg.MaxChars {
			break
		}
		if len(b) > 0 {
			b = append(b, r.cfg.Separator...)
		}
		b = append(b, entry...)
	}
	return string(b)
}

func (r *Retriever) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordContextOutcome(outcome)
	}
}

type backendError struct {
	status int
}

func (e *backendError) Error() string {
	return "memory backend returned status " + strconv.Itoa(e.status)
}
