package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/artepatrick/realtime-server-backend/audio"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	// Upstream credentials are required: without them every session
	// creation would fail.
	if c.Upstream.APIKey == "" {
		return errors.New("upstream.apiKey must be set (RELAY_UPSTREAM_API_KEY or OPENAI_API_KEY)")
	}
	if c.Upstream.Model == "" {
		return errors.New("upstream.model must be set")
	}
	if !strings.HasPrefix(c.Upstream.Endpoint, "ws://") && !strings.HasPrefix(c.Upstream.Endpoint, "wss://") {
		return fmt.Errorf("upstream.endpoint must be a ws:// or wss:// URL, got %q", c.Upstream.Endpoint)
	}
	if c.Upstream.ConnectTimeout < 1 {
		return errors.New("upstream connect timeout must be at least 1 second")
	}
	if c.Upstream.WriteTimeout < 1 {
		return errors.New("upstream write timeout must be at least 1 second")
	}

	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	if c.WebSocket.WriteTimeout < 1 {
		return errors.New("websocket write timeout must be at least 1 second")
	}
	if c.WebSocket.PingInterval < 1 {
		return errors.New("ping interval must be at least 1 second")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongGrace {
		return errors.New("ping interval should be less than the pong grace period")
	}

	for _, format := range c.Audio.SupportedFormats {
		if !audio.IsFormatSupported(format) {
			return fmt.Errorf("unsupported audio format %q (supported: %s)",
				format, strings.Join(audio.SupportedFormats(), ", "))
		}
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "RELAY_PORT")

	// Upstream
	viper.BindEnv("upstream.endpoint", "RELAY_UPSTREAM_ENDPOINT")
	viper.BindEnv("upstream.model", "RELAY_UPSTREAM_MODEL")
	viper.BindEnv("upstream.apiKey", "RELAY_UPSTREAM_API_KEY", "OPENAI_API_KEY")
	viper.BindEnv("upstream.orgID", "RELAY_UPSTREAM_ORG_ID", "OPENAI_ORG_ID")
	viper.BindEnv("upstream.projectID", "RELAY_UPSTREAM_PROJECT_ID", "OPENAI_PROJECT_ID")
	viper.BindEnv("upstream.connectTimeout", "RELAY_UPSTREAM_CONNECT_TIMEOUT")
	viper.BindEnv("upstream.writeTimeout", "RELAY_UPSTREAM_WRITE_TIMEOUT")

	// Auth
	viper.BindEnv("auth.enabled", "RELAY_AUTH_ENABLED")
	viper.BindEnv("auth.jwtSecret", "RELAY_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "RELAY_AUTH_TOKEN_PARAM")
	viper.BindEnv("auth.revocationListKey", "RELAY_AUTH_REVOCATION_KEY")

	// Redis
	viper.BindEnv("redis.address", "RELAY_REDIS_ADDRESS")
	viper.BindEnv("redis.password", "RELAY_REDIS_PASSWORD")

	// WebSocket
	viper.BindEnv("websocket.pingInterval", "RELAY_PING_INTERVAL")
	viper.BindEnv("websocket.pongGrace", "RELAY_PONG_GRACE")
	viper.BindEnv("websocket.writeTimeout", "RELAY_WRITE_TIMEOUT")
	viper.BindEnv("websocket.messageSizeLimit", "RELAY_MESSAGE_SIZE_LIMIT")

	// Metrics
	viper.BindEnv("metrics.enabled", "RELAY_METRICS_ENABLED")
	viper.BindEnv("metrics.port", "RELAY_METRICS_PORT")

	// Logging
	viper.BindEnv("log.level", "RELAY_LOG_LEVEL")
	viper.BindEnv("log.pretty", "RELAY_LOG_PRETTY")
}
