// Package config loads the gateway configuration from defaults, an
// optional YAML file and environment variable overrides, in that order.
package config

import (
	"fmt"
	"time"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds the store connection settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN builds the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	default:
		// sqlite: Name is the file path.
		return c.Name
	}
}

// RedisConfig holds the optional shared cache level. An empty Addr disables
// it.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// ProvidersConfig tunes the upstream adapters. Credentials come from the
// per-provider environment convention, never from this file.
type ProvidersConfig struct {
	UnaryTimeout    time.Duration `yaml:"unary_timeout" env:"UNARY_TIMEOUT"`
	StreamTimeout   time.Duration `yaml:"stream_timeout" env:"STREAM_TIMEOUT"`
	AzureAPIVersion string        `yaml:"azure_api_version" env:"AZURE_API_VERSION"`
}

// CacheConfig tunes the prompt-version cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity" env:"CAPACITY"`
	RedisTTL time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// RetryConfig tunes the per-target backoff of the fallback executor.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// AuthConfig guards the inbound API. An empty JWTSecret disables JWT
// checks; APIKeys lists accepted static keys for service callers.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	APIKeys   []string `yaml:"api_keys" env:"API_KEYS"`
}

// RateLimitConfig is a per-caller token bucket. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Default returns the baseline configuration before file and environment
// overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses manage their own deadlines
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "promptgate.db",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Providers: ProvidersConfig{
			UnaryTimeout:  60 * time.Second,
			StreamTimeout: 300 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 500,
			RedisTTL: 5 * time.Minute,
		},
		Retry: RetryConfig{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     3 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "promptgate",
			SampleRate:  1.0,
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Providers.UnaryTimeout < time.Second {
		return fmt.Errorf("unary_timeout too small: %s", c.Providers.UnaryTimeout)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive: %d", c.Cache.Capacity)
	}
	return nil
}
