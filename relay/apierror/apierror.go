// Package apierror translates relay-local failures into the OpenAI-compatible
// error envelope. Upstream-generated errors are never rewrapped; they already
// speak this shape and pass through verbatim.
package apierror

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// Error types drawn from the fixed envelope vocabulary.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeNotFound       = "not_found_error"
	TypeRateLimit      = "rate_limit_error"
	TypeUpstream       = "upstream_error"
	TypeTimeout        = "timeout_error"
	TypeInternal       = "internal_error"
)

// Machine-readable codes for specific failures.
const (
	CodeInvalidJSON           = "invalid_json"
	CodeMissingField          = "missing_field"
	CodeContentLengthMismatch = "content_length_mismatch"
	CodeModelNotFound         = "model_not_found"
	CodeRouteNotFound         = "route_not_found"
	CodeMethodNotAllowed      = "method_not_allowed"
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeUpstreamUnreachable   = "upstream_unreachable"
	CodeUpstreamTimeout       = "upstream_timeout"
	CodeInternal              = "internal_error"
)

// E is a relay-generated error carrying its wire representation.
// Message is safe to show to end users; credentials and configuration
// contents must never appear in it.
type E struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *E) Error() string {
	return e.Type + ": " + e.Message
}

// envelope is the wire shape: {"error": {"type", "message", "code"}}.
type envelope struct {
	Error *E `json:"error"`
}

// Write sends the envelope with the error's status code.
func Write(c echo.Context, e *E) error {
	return c.JSON(e.Status, envelope{Error: e})
}

// InvalidRequest builds a 400 invalid_request_error with the given code.
func InvalidRequest(code, message string) *E {
	return &E{Status: http.StatusBadRequest, Type: TypeInvalidRequest, Code: code, Message: message}
}

// ModelNotFound builds the 404 for an unknown logical model.
func ModelNotFound(model string) *E {
	return &E{
		Status:  http.StatusNotFound,
		Type:    TypeNotFound,
		Code:    CodeModelNotFound,
		Message: "model " + model + " is not configured",
	}
}

// RateLimited builds the 429 for a throttled user.
func RateLimited(message string) *E {
	return &E{Status: http.StatusTooManyRequests, Type: TypeRateLimit, Code: CodeRateLimitExceeded, Message: message}
}

// Upstream builds a 502 for a transport-level upstream failure.
func Upstream(message string) *E {
	return &E{Status: http.StatusBadGateway, Type: TypeUpstream, Code: CodeUpstreamUnreachable, Message: message}
}

// Timeout builds a 504 for an upstream that ran out of time.
func Timeout(message string) *E {
	return &E{Status: http.StatusGatewayTimeout, Type: TypeTimeout, Code: CodeUpstreamTimeout, Message: message}
}

// Internal builds a 500. Detail is only included when debug is set;
// otherwise callers get a generic message.
func Internal(detail string, debug bool) *E {
	message := "internal server error"
	if debug && detail != "" {
		message = detail
	}
	return &E{Status: http.StatusInternalServerError, Type: TypeInternal, Code: CodeInternal, Message: message}
}

// FromTransport classifies an error returned by an upstream HTTP call.
// Timeouts (context deadline, net timeouts) map to 504; everything else
// (refused connections, resets, TLS failures) maps to 502.
func FromTransport(err error) *E {
	if isTimeout(err) {
		return Timeout("upstream request timed out")
	}
	return Upstream("upstream request failed")
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}

// HTTPErrorHandler returns an echo error handler that keeps every error in
// the envelope shape, so nothing falls through to echo's default
// {"message": ...} body.
func HTTPErrorHandler(debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *E
		switch e := err.(type) {
		case *E:
			apiErr = e
		case *echo.HTTPError:
			apiErr = fromEchoError(e, debug)
		default:
			slog.Error("Unhandled error", "path", c.Path(), "error", err)
			apiErr = Internal(err.Error(), debug)
		}

		if writeErr := Write(c, apiErr); writeErr != nil {
			slog.Error("Failed to write error response", "error", writeErr)
		}
	}
}

func fromEchoError(e *echo.HTTPError, debug bool) *E {
	message, _ := e.Message.(string)
	switch e.Code {
	case http.StatusNotFound:
		if message == "" {
			message = "resource not found"
		}
		return &E{Status: e.Code, Type: TypeNotFound, Code: CodeRouteNotFound, Message: message}
	case http.StatusMethodNotAllowed:
		if message == "" {
			message = "method not allowed"
		}
		return &E{Status: e.Code, Type: TypeInvalidRequest, Code: CodeMethodNotAllowed, Message: message}
	default:
		return Internal(message, debug)
	}
}
