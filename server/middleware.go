package server

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// requestID stamps every request with a UUID so log lines correlate.
func requestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	})
}

// observe times each request, records it on the exporter, and emits one
// structured log line per request.
func (s *Server) observe() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Route through the error handler now so the logged status
				// reflects what the client actually received.
				c.Error(err)
			}

			duration := time.Since(start)
			status := c.Response().Status
			s.metrics.ObserveRequest(c.Path(), strconv.Itoa(status), duration)

			logger := slog.Info
			if status >= 500 {
				logger = slog.Error
			} else if status >= 400 {
				logger = slog.Warn
			}
			logger("Handled request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	}
}
