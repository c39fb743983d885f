package config

import (
	"fmt"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	WebSocket WebSocketConfig
	Audio     AudioConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

// UpstreamConfig parameterizes the fixed streaming-API endpoint each
// session connects to.
type UpstreamConfig struct {
	Endpoint       string
	Model          string
	APIKey         string
	OrgID          string
	ProjectID      string
	ConnectTimeout int // Seconds
	WriteTimeout   int // Seconds
}

type WebSocketConfig struct {
	PingInterval     int // Seconds between liveness probes
	PongGrace        int // Seconds without a pong before eviction
	WriteTimeout     int // Seconds
	MessageSizeLimit int // Bytes; 0 disables the limit
}

type AudioConfig struct {
	SupportedFormats []string
}

type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	TokenQueryParam   string
	RevocationListKey string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		// A local .env is optional; real deployments set the environment
		// directly.
		_ = godotenv.Load()

		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("RELAY")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
			// No config file is fine: defaults plus environment.
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
