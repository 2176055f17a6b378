package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		check       func(t *testing.T, cfg *Config)
		wantErr     bool
		errContains string
	}{
		{
			name: "default configuration when no env vars set",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://kratos:4433", cfg.KratosURL)
				assert.Equal(t, "8888", cfg.Port)
				assert.Equal(t, CacheDriverMemory, cfg.CacheDriver)
				assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
				assert.Equal(t, 30*time.Second, cfg.FreshnessWindow)
				assert.Equal(t, 10*time.Second, cfg.ReconcileTimeout)
				assert.Equal(t, 10000, cfg.RegistrySize)
				assert.True(t, cfg.CookieSecure)
				assert.Equal(t, "/login", cfg.LoginPath)
			},
		},
		{
			name: "custom configuration from environment variables",
			env: map[string]string{
				"KRATOS_URL":        "http://custom-kratos:4444",
				"PORT":              "9999",
				"CACHE_DRIVER":      "Redis",
				"REDIS_URL":         "redis://localhost:6379/0",
				"FRESHNESS_WINDOW":  "1m",
				"RECONCILE_TIMEOUT": "3s",
				"REGISTRY_SIZE":     "50",
				"COOKIE_SECURE":     "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://custom-kratos:4444", cfg.KratosURL)
				assert.Equal(t, "9999", cfg.Port)
				assert.Equal(t, CacheDriverRedis, cfg.CacheDriver)
				assert.Equal(t, time.Minute, cfg.FreshnessWindow)
				assert.Equal(t, 3*time.Second, cfg.ReconcileTimeout)
				assert.Equal(t, 50, cfg.RegistrySize)
				assert.False(t, cfg.CookieSecure)
			},
		},
		{
			name:        "invalid cache TTL format returns error",
			env:         map[string]string{"CACHE_TTL": "invalid"},
			wantErr:     true,
			errContains: "invalid CACHE_TTL",
		},
		{
			name:        "invalid registry size returns error",
			env:         map[string]string{"REGISTRY_SIZE": "many"},
			wantErr:     true,
			errContains: "invalid REGISTRY_SIZE",
		},
		{
			name:        "redis driver requires url",
			env:         map[string]string{"CACHE_DRIVER": "redis"},
			wantErr:     true,
			errContains: "REDIS_URL",
		},
		{
			name:        "unknown driver",
			env:         map[string]string{"CACHE_DRIVER": "sqlite"},
			wantErr:     true,
			errContains: "unknown CACHE_DRIVER",
		},
		{
			name:        "relative login path",
			env:         map[string]string{"LOGIN_PATH": "login"},
			wantErr:     true,
			errContains: "LOGIN_PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"KRATOS_URL", "PORT", "CACHE_DRIVER", "CACHE_TTL", "REDIS_URL", "FRESHNESS_WINDOW",
				"RECONCILE_TIMEOUT", "REGISTRY_SIZE", "COOKIE_SECURE", "LOGIN_PATH",
			} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestGetEnv_FileSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csrf")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("CSRF_SECRET", "from-env")
	t.Setenv("CSRF_SECRET_FILE", path)

	assert.Equal(t, "from-file", getEnv("CSRF_SECRET", ""))
}

func TestGetEnv_MissingFileFallsBack(t *testing.T) {
	t.Setenv("CSRF_SECRET", "from-env")
	t.Setenv("CSRF_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, "from-env", getEnv("CSRF_SECRET", ""))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             "8888",
			KratosURL:        "http://kratos:4433",
			CacheDriver:      CacheDriverFile,
			CacheDir:         "/tmp/sessions",
			CacheTTL:         time.Hour,
			FreshnessWindow:  time.Second,
			ReconcileTimeout: time.Second,
			RegistrySize:     1,
			LoginPath:        "/login",
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.CacheDir = ""
	assert.ErrorContains(t, cfg.Validate(), "CACHE_DIR")

	cfg = valid()
	cfg.KratosURL = ""
	assert.ErrorContains(t, cfg.Validate(), "KRATOS_URL")

	cfg = valid()
	cfg.FreshnessWindow = 0
	assert.ErrorContains(t, cfg.Validate(), "FRESHNESS_WINDOW")
}
