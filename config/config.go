package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache drivers.
const (
	CacheDriverMemory = "memory"
	CacheDriverFile   = "file"
	CacheDriverRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Port             string        // Service port
	KratosURL        string        // Kratos public API URL (port 4433)
	KratosAdminURL   string        // Kratos admin API URL (port 4434), optional
	CacheDriver      string        // memory, file or redis
	CacheTTL         time.Duration // Session cache entry TTL
	CacheDir         string        // Directory for the file cache driver
	RedisURL         string        // Redis URL for the redis cache driver and event bus
	FreshnessWindow  time.Duration // How long a cache entry may skip the provider
	ReconcileTimeout time.Duration // Bound on a single remote reconciliation
	RegistrySize     int           // Max live reconcilers
	EventsChannel    string        // Redis pub/sub channel for identity events
	HookSharedSecret string        // Shared secret for the identity event webhook
	CSRFSecret       string        // CSRF secret for token generation
	CookieSecure     bool          // Secure flag on visitor cookies
	LoginPath        string        // Where denied routes redirect

	BackendTokenSecret   string        // Secret for signing backend JWT tokens
	BackendTokenIssuer   string        // JWT issuer claim
	BackendTokenAudience string        // JWT audience claim
	BackendTokenTTL      time.Duration // JWT token TTL
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Port:                 getEnv("PORT", "8888"),
		KratosURL:            getEnv("KRATOS_URL", "http://kratos:4433"),
		KratosAdminURL:       getEnv("KRATOS_ADMIN_URL", ""),
		CacheDriver:          strings.ToLower(getEnv("CACHE_DRIVER", CacheDriverMemory)),
		CacheDir:             getEnv("CACHE_DIR", "/var/lib/villa-auth/sessions"),
		RedisURL:             getEnv("REDIS_URL", ""),
		EventsChannel:        getEnv("EVENTS_REDIS_CHANNEL", "villa:identity-events"),
		HookSharedSecret:     getEnv("HOOK_SHARED_SECRET", ""),
		CSRFSecret:           getEnv("CSRF_SECRET", ""),
		LoginPath:            getEnv("LOGIN_PATH", "/login"),
		BackendTokenSecret:   getEnv("BACKEND_TOKEN_SECRET", ""),
		BackendTokenIssuer:   getEnv("BACKEND_TOKEN_ISSUER", "villa-auth"),
		BackendTokenAudience: getEnv("BACKEND_TOKEN_AUDIENCE", "villa-backend"),
	}

	var err error
	if config.CacheTTL, err = getDuration("CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.FreshnessWindow, err = getDuration("FRESHNESS_WINDOW", 30*time.Second); err != nil {
		return nil, err
	}
	if config.ReconcileTimeout, err = getDuration("RECONCILE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if config.BackendTokenTTL, err = getDuration("BACKEND_TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	config.RegistrySize = 10000
	if v := os.Getenv("REGISTRY_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REGISTRY_SIZE format: %w", err)
		}
		config.RegistrySize = n
	}

	config.CookieSecure = true
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid COOKIE_SECURE format: %w", err)
		}
		config.CookieSecure = b
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.KratosURL == "" {
		return fmt.Errorf("KRATOS_URL cannot be empty")
	}

	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.CacheDriver {
	case CacheDriverMemory:
	case CacheDriverFile:
		if c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR cannot be empty when CACHE_DRIVER=file")
		}
	case CacheDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty when CACHE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive")
	}

	if c.ReconcileTimeout <= 0 {
		return fmt.Errorf("RECONCILE_TIMEOUT must be positive")
	}

	if c.RegistrySize <= 0 {
		return fmt.Errorf("REGISTRY_SIZE must be positive")
	}

	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must be an absolute path")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a fallback value
func getEnv(key, fallback string) string {
	// Check for _FILE suffix
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}
