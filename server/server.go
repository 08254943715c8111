// Package server owns the echo instance and the relay's long-lived state:
// configuration, the session pool, the context retriever, and metrics. Tests
// construct their own Server; nothing here is a global.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/memrelay/config"
	"github.com/hrygo/memrelay/internal/profile"
	"github.com/hrygo/memrelay/relay/apierror"
	"github.com/hrygo/memrelay/relay/identity"
	"github.com/hrygo/memrelay/relay/memory"
	"github.com/hrygo/memrelay/relay/metrics"
	"github.com/hrygo/memrelay/relay/proxy"
	"github.com/hrygo/memrelay/relay/session"
)

type Server struct {
	Profile *profile.Profile
	Config  *config.Config

	echoServer *echo.Echo
	pool       *session.Pool
	metrics    *metrics.Exporter
}

func NewServer(_ context.Context, pf *profile.Profile, cfg *config.Config) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Profile:    pf,
		Config:     cfg,
		echoServer: e,
		pool:       session.NewPool(cfg.UpstreamTimeout),
		metrics:    metrics.NewExporter(metrics.DefaultConfig()),
	}

	e.HTTPErrorHandler = apierror.HTTPErrorHandler(pf.Debug)
	e.Use(middleware.Recover())
	e.Use(requestID())
	e.Use(s.observe())

	resolver := identity.NewResolver(&cfg.Routing)

	var retriever *memory.Retriever
	if cfg.Context.Enabled {
		retriever = memory.NewRetriever(&cfg.Context, s.pool, s.metrics)
		slog.Info("Context retrieval enabled",
			"backend", cfg.Context.BaseURL,
			"query_strategy", cfg.Context.QueryStrategy,
			"inject_strategy", cfg.Context.InjectStrategy,
		)
	}

	handler := proxy.NewHandler(cfg, resolver, s.pool, retriever, s.metrics, pf.Debug)
	s.registerRoutes(handler)

	return s, nil
}

func (s *Server) registerRoutes(h *proxy.Handler) {
	e := s.echoServer
	e.POST("/v1/chat/completions", h.ChatCompletions)
	e.GET("/v1/models", h.Models)
	e.GET("/health", h.Health)
	e.GET("/memory-routing/info", h.MemoryRoutingInfo)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

// Echo exposes the router for tests driving the server through httptest.
func (s *Server) Echo() *echo.Echo {
	return s.echoServer
}

// Start binds the listener synchronously (so bind failures surface here) and
// serves in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server stopped unexpectedly", "error", err)
		}
	}()

	slog.Info("Server started",
		"address", address,
		"mode", s.Profile.Mode,
		"models", len(s.Config.Models),
	)
	return nil
}

// Shutdown drains in-flight requests, then closes every upstream session.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down server gracefully", "error", err)
	}
	s.pool.Shutdown()
	slog.Info("Server shut down")
}
