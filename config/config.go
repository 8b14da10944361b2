package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the portfolio client.
// Values are read from environment variables, with an optional .env
// file loaded first for local development.
type Config struct {
	Service   ServiceConfig
	API       APIConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Shutdown  ShutdownConfig
}

// ServiceConfig identifies the session agent process.
type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

// APIConfig configures the connection to the portfolio backend.
type APIConfig struct {
	// BaseURL is the root of the backend, e.g. "https://portfolio.example.com".
	// All request paths are resolved relative to it.
	BaseURL string
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int
}

// AuthConfig configures the credential refresh cadence.
//
// AccessTokenLifetimeSeconds mirrors the backend's jwt.access.expiration
// setting. It is a client-side constant: the backend does not expose the
// real expiry, so the two must be kept in sync by deployment config.
type AuthConfig struct {
	AccessTokenLifetimeSeconds int
	// RefreshBufferSeconds is how long before expiry the scheduler
	// refreshes. Must be strictly less than the access token lifetime.
	RefreshBufferSeconds int
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level string
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

// ShutdownConfig controls graceful shutdown of the status server.
type ShutdownConfig struct {
	TimeoutSeconds             int
	ReadinessDrainDelaySeconds int
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment
// variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "portfolio-client"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("SERVICE_ENV", "development"),
			Port:    getEnv("SERVICE_PORT", "8090"),
		},
		API: APIConfig{
			BaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
			TimeoutSeconds: getEnvInt("HTTP_TIMEOUT_SECONDS", 10),
		},
		Auth: AuthConfig{
			AccessTokenLifetimeSeconds: getEnvInt("ACCESS_TOKEN_LIFETIME_SECONDS", 900),
			RefreshBufferSeconds:       getEnvInt("REFRESH_BUFFER_SECONDS", 60),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("TRACING_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PROFILING_ENDPOINT", "http://localhost:4040"),
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds:             getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10),
			ReadinessDrainDelaySeconds: getEnvInt("READINESS_DRAIN_DELAY_SECONDS", 0),
		},
	}
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL must not be empty")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", c.API.TimeoutSeconds)
	}
	if c.Auth.AccessTokenLifetimeSeconds <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_LIFETIME_SECONDS must be positive, got %d", c.Auth.AccessTokenLifetimeSeconds)
	}
	if c.Auth.RefreshBufferSeconds <= 0 {
		return fmt.Errorf("REFRESH_BUFFER_SECONDS must be positive, got %d", c.Auth.RefreshBufferSeconds)
	}
	if c.Auth.RefreshBufferSeconds >= c.Auth.AccessTokenLifetimeSeconds {
		return fmt.Errorf("REFRESH_BUFFER_SECONDS (%d) must be strictly less than ACCESS_TOKEN_LIFETIME_SECONDS (%d)",
			c.Auth.RefreshBufferSeconds, c.Auth.AccessTokenLifetimeSeconds)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be in [0, 1], got %f", c.Tracing.SampleRate)
	}
	return nil
}

// GetHTTPTimeoutDuration returns the per-request HTTP timeout.
func (c *Config) GetHTTPTimeoutDuration() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// GetAccessTokenLifetimeDuration returns the assumed access token lifetime.
func (c *Config) GetAccessTokenLifetimeDuration() time.Duration {
	return time.Duration(c.Auth.AccessTokenLifetimeSeconds) * time.Second
}

// GetRefreshBufferDuration returns the pre-expiry refresh margin.
func (c *Config) GetRefreshBufferDuration() time.Duration {
	return time.Duration(c.Auth.RefreshBufferSeconds) * time.Second
}

// GetShutdownTimeoutDuration returns the graceful shutdown deadline.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSeconds) * time.Second
}

// GetReadinessDrainDelayDuration returns how long to fail readiness
// before starting shutdown.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return time.Duration(c.Shutdown.ReadinessDrainDelaySeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
