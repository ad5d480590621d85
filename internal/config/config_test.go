package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RIDEMARKET_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("RIDEMARKET_STORE_DRIVER", "memory")
	t.Setenv("RIDEMARKET_FEED_DRIVER", "nats")
	t.Setenv("RIDEMARKET_RIDE_REQUEST_TTL", "3m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "nats", cfg.Feed.Driver)
	assert.Equal(t, 3*time.Minute, cfg.Ride.RequestTTL)
	assert.Equal(t, 5*time.Second, cfg.Dashboard.Refresh)
	assert.Equal(t, "USD", cfg.Ride.Currency)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)
}

func TestLoad_AllowedOriginsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RIDEMARKET_HTTP_ALLOWED_ORIGINS", "https://ops.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ops.example.com", "https://admin.example.com"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ridemarket.yaml")
	yaml := "http:\n  addr: \":9090\"\n  allowed_origins:\n    - https://ops.example.com\nauth:\n  jwt_secret: abc\nride:\n  currency: EUR\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("RIDEMARKET_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "abc", cfg.Auth.JWTSecret)
	assert.Equal(t, "EUR", cfg.Ride.Currency)
}

func TestValidate_JoinsProblems(t *testing.T) {
	var cfg Config
	cfg.Store.Driver = "mongo"
	cfg.Feed.Driver = "kafka"
	cfg.Ride.Currency = "US"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"store.driver", "feed.driver", "jwt_secret", "request_ttl", "dashboard.refresh", "currency"} {
		assert.Contains(t, err.Error(), want)
	}
}
