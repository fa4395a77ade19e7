// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mediagw serves the local HTTP surface of the gateway: MJPEG
// camera streams and still frames straight from the camera hubs, a
// no-script viewer page, fleet status JSON, health and metrics endpoints,
// and a catch-all reverse proxy to the relay's own API (WebSocket
// included) so the relay UI stays reachable through one port.
package mediagw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/camera"
	"github.com/ManuGH/farmgw/internal/health"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/registry"
)

const readHeaderTimeout = 10 * time.Second

// FrameSource hands out the per-printer frame hub. Implemented by
// camera.Manager; tests substitute a map.
type FrameSource interface {
	Hub(serial string) (*camera.Hub, bool)
}

// Config holds the media gateway settings.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8088".
	ListenAddr string

	// Registry supplies the fleet roster for the status and viewer pages.
	Registry *registry.Registry

	// Cameras supplies frame hubs for direct MJPEG serving.
	Cameras FrameSource

	// RelayURL is the relay API base ("http://127.0.0.1:1984"). Empty
	// disables the catch-all proxy; unmatched paths then 404.
	RelayURL string

	// Health serves /healthz and /readyz when set.
	Health *health.Manager

	// TracingService enables OpenTelemetry HTTP spans under this service
	// name. Empty disables tracing.
	TracingService string
}

// Server is the media gateway HTTP server.
type Server struct {
	cfg        Config
	logger     zerolog.Logger
	httpServer *http.Server
	relayProxy *httputil.ReverseProxy
	relayWS    *url.URL
	upgrader   websocket.Upgrader
}

// New validates the configuration and builds the server. The listener is
// not opened until Start.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Cameras == nil {
		return nil, fmt.Errorf("camera source is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent("mediagw"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	if cfg.RelayURL != "" {
		target, err := url.Parse(cfg.RelayURL)
		if err != nil {
			return nil, fmt.Errorf("parse relay URL %q: %w", cfg.RelayURL, err)
		}
		s.relayProxy = newRelayProxy(target, s.logger)
		ws := *target
		switch ws.Scheme {
		case "https":
			ws.Scheme = "wss"
		default:
			ws.Scheme = "ws"
		}
		s.relayWS = &ws
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Start runs the HTTP server until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.cfg.ListenAddr).
		Bool("relay_proxy", s.relayProxy != nil).
		Msg("media gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("media gateway: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// routes assembles the middleware stack and route table. Middleware order
// is canonical: recovery first, correlation early, observability before
// the handlers.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(securityHeaders)
	r.Use(requestMetrics)
	if s.cfg.TracingService != "" {
		r.Use(otelTracing(s.cfg.TracingService))
	}
	r.Use(log.Middleware())

	s.registerSystemRoutes(r)
	s.registerCameraRoutes(r)
	s.registerRelayRoutes(r)
	return r
}

func (s *Server) registerSystemRoutes(r chi.Router) {
	if s.cfg.Health != nil {
		r.Get("/healthz", s.cfg.Health.ServeHealth)
		r.Get("/readyz", s.cfg.Health.ServeReady)
	}
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/printers", s.handlePrinters)
	r.Get("/api/logs/recent", s.handleRecentLogs)
}

func (s *Server) registerCameraRoutes(r chi.Router) {
	r.Get("/stream/{serial}", s.handleStream)
	r.Get("/stream.html", s.handleViewerPage)
	r.Group(func(g chi.Router) {
		g.Use(frameRateLimit())
		g.Get("/frame/{serial}", s.handleFrame)
	})
}

func (s *Server) registerRelayRoutes(r chi.Router) {
	if s.relayProxy == nil {
		return
	}
	r.NotFound(s.handleRelay)
}
