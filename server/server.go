// Package server wraps the HTTP listener that carries the client
// WebSocket route plus the liveness/info endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/config"
	"github.com/artepatrick/realtime-server-backend/websocket"
)

// Server owns the listening endpoint.
type Server struct {
	httpServer *http.Server
	relay      *websocket.Handler
	cfg        *config.AppConfig

	shutdownOnce sync.Once
}

// NewServer builds the HTTP server: the WebSocket route at "/", a
// liveness probe at /healthz and a small info surface at /info.
func NewServer(cfg *config.AppConfig, relay *websocket.Handler) *Server {
	s := &Server{
		relay: relay,
		cfg:   cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", relay.HandleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/info", s.handleInfo)

	s.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	return s
}

// Start blocks serving requests until the listener is closed.
func (s *Server) Start() {
	log.Info().
		Str("component", "server").
		Str("addr", s.httpServer.Addr).
		Msg("relay server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listen_port":    s.cfg.Server.Port,
		"client_count":   s.relay.ClientCount(),
		"upstream_model": s.cfg.Upstream.Model,
	})
}

// Shutdown tears down the relay (sessions, upstream connections, client
// transports) and then releases the listening endpoint. Idempotent.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		log.Info().Str("component", "server").Msg("shutting down")
		s.relay.Shutdown()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("error releasing listener")
		}
		log.Info().Str("component", "server").Msg("shutdown complete")
	})
}
