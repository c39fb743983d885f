package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Upstream
	viper.SetDefault("upstream.endpoint", "wss://api.openai.com/v1/realtime")
	viper.SetDefault("upstream.model", "gpt-4o-realtime-preview-2024-10-01")
	viper.SetDefault("upstream.connectTimeout", 10)
	viper.SetDefault("upstream.writeTimeout", 10)

	// WebSocket
	viper.SetDefault("websocket.pingInterval", 30)
	viper.SetDefault("websocket.pongGrace", 60)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.messageSizeLimit", 0)

	// Audio
	viper.SetDefault("audio.supportedFormats", []string{"pcm16", "g711_ulaw", "g711_alaw"})

	// Auth
	viper.SetDefault("auth.enabled", false) // Default to off for security
	viper.SetDefault("auth.jwtSecret", "default-secret")
	viper.SetDefault("auth.tokenQueryParam", "token")
	viper.SetDefault("auth.revocationListKey", "jwt:revoked")

	// Redis (used only for the auth revocation list)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 100)
	viper.SetDefault("redis.poolTimeout", 5)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}
