package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opentrusty/keyring/internal/core"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Keyring       KeyringConfig
	Refresher     RefresherConfig
	Keyserver     KeyserverConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	API           APIConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// KeyringConfig holds the trust store identity: whose keys these are
// and how much network exposure they tolerate.
type KeyringConfig struct {
	Domain string
	Home   string
	Policy string
}

// RefresherConfig holds background refresh configuration
type RefresherConfig struct {
	Enabled  bool
	Interval time.Duration
	Jitter   time.Duration
	Timeout  time.Duration
}

// KeyserverConfig holds the upstream keyserver configuration
type KeyserverConfig struct {
	URL      string
	ProxyURL string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// APIConfig holds API access configuration.  An empty AuthToken leaves
// the API open, the expected setup for a loopback listener.
type APIConfig struct {
	AuthToken string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnv("SERVER_PORT", "8390"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite"),
			DSN:          getEnv("DB_DSN", ""),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Keyring: KeyringConfig{
			Domain: getEnv("KEYRING_DOMAIN", "org.keyring.default"),
			Home:   getEnv("KEYRING_HOME", ""),
			Policy: getEnv("KEYRING_POLICY", "encrypted"),
		},
		Refresher: RefresherConfig{
			Enabled:  parseBool("REFRESH_ENABLED", true),
			Interval: parseDuration("REFRESH_INTERVAL", "1h"),
			Jitter:   parseDuration("REFRESH_JITTER", "10m"),
			Timeout:  parseDuration("REFRESH_TIMEOUT", "30s"),
		},
		Keyserver: KeyserverConfig{
			URL:      getEnv("KEYSERVER_URL", "https://keys.openpgp.org"),
			ProxyURL: getEnv("KEYSERVER_PROXY_URL", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "keyring"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 50)),
			Burst:             parseInt("RATELIMIT_BURST", 100),
		},
		API: APIConfig{
			AuthToken: getEnv("API_AUTH_TOKEN", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required for the postgres driver")
	}
	if c.Keyring.Domain == "" {
		return fmt.Errorf("KEYRING_DOMAIN is required")
	}
	policy, err := core.ParseNetworkPolicy(c.Keyring.Policy)
	if err != nil {
		return fmt.Errorf("KEYRING_POLICY: %w", err)
	}
	if policy == core.PolicyAnonymized && c.Keyserver.ProxyURL == "" {
		return fmt.Errorf("KEYSERVER_PROXY_URL is required under the anonymized policy")
	}
	if c.Refresher.Interval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	return nil
}

// NetworkPolicy returns the parsed network policy.  Validate has
// already rejected unknown names.
func (c *Config) NetworkPolicy() core.NetworkPolicy {
	policy, _ := core.ParseNetworkPolicy(c.Keyring.Policy)
	return policy
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
