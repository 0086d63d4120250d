// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves Manager's registry on its own listener, separate from the
// web UI's, so scraping never competes with it for a port or a goroutine.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a /metrics server bound to addr (host:port). The
// teacher's metrics server additionally supported per-user basic auth;
// MLM has no multi-user audience for this endpoint (spec §1's single-admin
// non-goal), so that option is dropped rather than carried unused.
func NewServer(addr string, manager *Manager) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(manager.GetRegistry(), promhttp.HandlerOpts{}))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving /metrics until the listener fails or
// Shutdown is called, in which case it returns http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("metrics: listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// AddrFrom joins host/port into the listen address Server and NewServer's
// callers pass, matching domain.Config.MetricsHost/MetricsPort's shape.
func AddrFrom(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
