package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/config"
	"github.com/artepatrick/realtime-server-backend/metrics"
	"github.com/artepatrick/realtime-server-backend/server"
	"github.com/artepatrick/realtime-server-backend/session"
	"github.com/artepatrick/realtime-server-backend/services"
	"github.com/artepatrick/realtime-server-backend/upstream"
	"github.com/artepatrick/realtime-server-backend/websocket"
)

func main() {
	// Initialize config
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize config")
	}
	cfg := config.Get()

	setupLogging(&cfg.Log)
	log.Info().Str("env", env).Int("port", cfg.Server.Port).Msg("starting realtime relay")

	// Auth Initialization
	var jwtValidator *websocket.JWTValidator
	if cfg.Auth.Enabled {
		redisClient := authRedisClient(&cfg.Redis)
		jwtValidator = websocket.NewJWTValidator(&cfg.Auth, redisClient)
		log.Info().Msg("JWT authentication is ENABLED")
	} else {
		log.Info().Msg("JWT authentication is DISABLED")
	}
	// --- End of Auth Initialization ---

	// Upstream connection manager: one outbound connection per session.
	upstreamManager := upstream.NewManager(upstream.Config{
		Endpoint:       cfg.Upstream.Endpoint,
		Model:          cfg.Upstream.Model,
		APIKey:         cfg.Upstream.APIKey,
		OrgID:          cfg.Upstream.OrgID,
		ProjectID:      cfg.Upstream.ProjectID,
		ConnectTimeout: time.Duration(cfg.Upstream.ConnectTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Upstream.WriteTimeout) * time.Second,
	})

	// Session registry and client-facing relay
	registry := session.NewRegistry(upstreamManager)
	clientManager := websocket.NewClientManager()
	relay := websocket.NewHandler(clientManager, registry, jwtValidator, &cfg.Auth, &cfg.WebSocket)
	relay.Start()

	// Metrics server
	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// Create and start server
	srv := server.NewServer(cfg, relay)
	go srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutdown signal received")

	// Graceful shutdown: teardown must finish before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	upstreamManager.CloseAll()
}

func setupLogging(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		})
	}
}

// authRedisClient connects to the revocation-list store. A missing store
// is not fatal: validation falls open without it.
func authRedisClient(cfg *config.RedisConfig) *redis.Client {
	client, err := services.NewRedisClient(cfg.Address, cfg.Password, cfg.DB, cfg.PoolSize, cfg.PoolTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("revocation store unavailable, token revocation checks disabled")
		return nil
	}
	return client
}
