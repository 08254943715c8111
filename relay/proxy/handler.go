// Package proxy orchestrates request forwarding: resolve the user identity,
// optionally enrich the message list, forward through the persistent session,
// and stream the upstream response back.
package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hrygo/memrelay/config"
	"github.com/hrygo/memrelay/relay/apierror"
	"github.com/hrygo/memrelay/relay/identity"
	"github.com/hrygo/memrelay/relay/memory"
	"github.com/hrygo/memrelay/relay/metrics"
	"github.com/hrygo/memrelay/relay/session"
)

// Handler serves the relay's HTTP surface. All referenced state is immutable
// after construction except the session pool and the rate limiter, which
// synchronize internally.
type Handler struct {
	cfg       *config.Config
	resolver  *identity.Resolver
	pool      *session.Pool
	retriever *memory.Retriever
	metrics   *metrics.Exporter
	limiter   *RateLimiter
	debug     bool
}

// NewHandler wires the handler. retriever and m may be nil.
func NewHandler(cfg *config.Config, resolver *identity.Resolver, pool *session.Pool, retriever *memory.Retriever, m *metrics.Exporter, debug bool) *Handler {
	return &Handler{
		cfg:       cfg,
		resolver:  resolver,
		pool:      pool,
		retriever: retriever,
		metrics:   m,
		limiter:   NewRateLimiter(&cfg.RateLimit),
		debug:     debug,
	}
}

// ChatCompletions forwards a chat-completion request to the upstream mapped
// from its logical model, stamping the resolved user id and optionally
// injecting retrieved context.
func (h *Handler) ChatCompletions(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return apierror.InvalidRequest(apierror.CodeInvalidJSON, "failed to read request body")
	}

	// A declared Content-Length that disagrees with the bytes actually read
	// means a broken client or a body-mutating intermediary; forwarding it
	// would silently corrupt the upstream call.
	if declared := req.Header.Get(echo.HeaderContentLength); declared != "" {
		n, parseErr := strconv.ParseInt(declared, 10, 64)
		if parseErr != nil || n != int64(len(body)) {
			return apierror.InvalidRequest(apierror.CodeContentLengthMismatch,
				"declared Content-Length does not match request body length")
		}
	}

	if !gjson.ValidBytes(body) {
		return apierror.InvalidRequest(apierror.CodeInvalidJSON, "request body is not valid JSON")
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		return apierror.InvalidRequest(apierror.CodeMissingField, "missing required field: model")
	}

	entry, ok := h.cfg.Model(model)
	if !ok {
		return apierror.ModelNotFound(model)
	}

	resolution := h.resolver.Resolve(req.Header)
	if h.metrics != nil {
		h.metrics.RecordMatch(string(resolution.Matched))
	}

	if !h.limiter.Allow(resolution.UserID) {
		return apierror.RateLimited("request rate limit exceeded for this user")
	}

	wantStream := gjson.GetBytes(body, "stream").Bool()

	if h.retriever != nil && !entry.DisableContext {
		body = h.retriever.Enrich(req.Context(), body, resolution.UserID, model)
	}

	if entry.UpstreamModel != "" && entry.UpstreamModel != model {
		if rewritten, err := sjson.SetBytes(body, "model", entry.UpstreamModel); err == nil {
			body = rewritten
		}
	}

	resp, apiErr := h.forward(req, entry, body, resolution.UserID)
	if apiErr != nil {
		return apiErr
	}
	if resp == nil {
		// Client went away before the upstream answered.
		return nil
	}
	defer resp.Body.Close()

	slog.Info("Forwarded chat completion",
		"model", model,
		"upstream", entry.UpstreamBase,
		"user_id", resolution.UserID,
		"matched", resolution.Matched,
		"status", resp.StatusCode,
		"stream", wantStream,
	)

	return h.respond(c, resp, wantStream)
}

// forward issues the upstream request through the entry's persistent session.
// A nil, nil return means the client disconnected and no response should be
// written.
func (h *Handler) forward(req *http.Request, entry *config.ModelEntry, body []byte, userID string) (*http.Response, *apierror.E) {
	sess, err := h.pool.Get(entry.UpstreamBase)
	if err != nil {
		slog.Error("Failed to acquire upstream session", "base_url", entry.UpstreamBase, "error", err)
		return nil, apierror.Upstream("failed to reach upstream")
	}
	if h.metrics != nil {
		h.metrics.SetOpenSessions(h.pool.Len())
	}

	target := joinUpstreamURL(entry.UpstreamBase, req.URL.Path)
	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, apierror.Internal(err.Error(), h.debug)
	}
	outReq.Header = buildForwardHeaders(req.Header, entry.APIKey, h.cfg.Routing.ForwardHeader, userID)
	outReq.ContentLength = int64(len(body))

	resp, err := sess.Client.Do(outReq)
	if err != nil {
		if req.Context().Err() != nil {
			// Cancellation, not failure. The transport has already torn
			// down or recycled the connection.
			slog.Debug("Client disconnected before upstream response", "upstream", entry.UpstreamBase)
			return nil, nil
		}
		transportErr := apierror.FromTransport(err)
		if h.metrics != nil {
			h.metrics.RecordUpstreamError(transportErr.Code)
		}
		slog.Warn("Upstream request failed",
			"upstream", entry.UpstreamBase,
			"code", transportErr.Code,
			"error", err,
		)
		return nil, transportErr
	}
	return resp, nil
}

// respond relays the upstream response to the client, streaming when the
// request asked for it or the upstream answered with an event stream.
func (h *Handler) respond(c echo.Context, resp *http.Response, wantStream bool) error {
	res := c.Response()

	isStream := wantStream || strings.HasPrefix(resp.Header.Get(echo.HeaderContentType), "text/event-stream")
	if isStream {
		copyHeaders(res.Header(), resp.Header)
		res.Header().Del(echo.HeaderContentLength)
		return h.stream(c, resp)
	}

	// Buffered: read fully before committing any headers, so a failed read
	// can still produce a clean error envelope.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordUpstreamError(apierror.CodeUpstreamUnreachable)
		}
		return apierror.Upstream("upstream response body could not be read")
	}

	copyHeaders(res.Header(), resp.Header)
	res.Header().Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
	res.WriteHeader(resp.StatusCode)
	_, err = res.Write(body)
	return err
}

// stream pumps the upstream body to the client chunk by chunk, flushing after
// every write so event-stream framing reaches the client immediately. Bytes
// pass through untouched.
func (h *Handler) stream(c echo.Context, resp *http.Response) error {
	res := c.Response()
	res.WriteHeader(resp.StatusCode)

	if h.metrics != nil {
		h.metrics.StreamStarted()
		defer h.metrics.StreamEnded()
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := res.Write(buf[:n]); writeErr != nil {
				// Client went away; cancelling the request context (done by
				// the server on disconnect) stops the upstream read too.
				slog.Debug("Client write failed mid-stream", "error", writeErr)
				return nil
			}
			res.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF && !isCanceled(c.Request().Context()) {
				slog.Warn("Upstream stream ended with error", "error", readErr)
			}
			return nil
		}
	}
}

func isCanceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
