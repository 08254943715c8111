// Package session maintains persistent per-upstream HTTP clients.
//
// Upstreams of interest sit behind challenge layers that issue a clearance
// cookie after the first request. A fresh client per request would re-trigger
// the challenge every time, so the pool keeps exactly one cookie-carrying
// client per upstream base URL for the process lifetime.
package session

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

// Session is the persistent outbound client for one upstream base URL.
// Cookie state is shared across all requests routed through it.
type Session struct {
	BaseURL   string
	Client    *http.Client
	CreatedAt time.Time
}

// Pool owns all sessions. Lookups run under shared access, creation is
// serialized so at most one session per URL exists.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewPool creates a pool whose sessions use the given response timeout.
// LLM generations can take minutes, so the timeout should be generous.
func NewPool(responseTimeout time.Duration) *Pool {
	if responseTimeout <= 0 {
		responseTimeout = 10 * time.Minute
	}
	return &Pool{
		sessions: make(map[string]*Session),
		timeout:  responseTimeout,
	}
}

// Get returns the one session for the base URL, creating it on first use.
// Safe for concurrent callers; all callers for the same URL get the same
// session by identity.
func (p *Pool) Get(baseURL string) (*Session, error) {
	key := strings.TrimRight(baseURL, "/")

	p.mu.RLock()
	s, ok := p.sessions[key]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-check: another caller may have created the session while we
	// waited for the write lock.
	if s, ok := p.sessions[key]; ok {
		return s, nil
	}

	s, err := newSession(key, p.timeout)
	if err != nil {
		return nil, err
	}
	p.sessions[key] = s
	slog.Info("Created upstream session", "base_url", key)
	return s, nil
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Shutdown closes every session, releasing connections and discarding
// cookie state. A later Get starts a fresh session with an empty jar.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, s := range p.sessions {
		s.Client.CloseIdleConnections()
		delete(p.sessions, key)
	}
	slog.Info("Session pool shut down")
}

func newSession(baseURL string, timeout time.Duration) (*Session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid upstream base URL %s", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("upstream base URL %s must use http or https", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: timeout,
		// Redirects are followed; challenge layers bounce through them
		// while setting clearance cookies.
		Transport: newTransport(),
	}

	return &Session{
		BaseURL:   baseURL,
		Client:    client,
		CreatedAt: time.Now(),
	}, nil
}

// newTransport builds a keep-alive transport sized for many concurrent
// requests to the same upstream.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
