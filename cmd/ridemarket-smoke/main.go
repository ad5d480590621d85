// README: Smoke runner; drives the ride lifecycle scenarios against a running API and prints PASS/FAIL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner, err := NewRunner(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoke: %v\n", err)
		os.Exit(2)
	}
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	JWTSecret      string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("RIDEMARKET_SMOKE_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", envOrDefault("RIDEMARKET_AUTH_JWT_SECRET", ""), "HS256 secret shared with the API")
	flag.StringVar(&cfg.DSN, "dsn", envOrDefault("RIDEMARKET_DB_DSN", ""), "Postgres DSN (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("RIDEMARKET_REDIS_ADDR", ""), "Redis address (optional)")
	flag.StringVar(&cfg.MigrationPath, "migration", envOrDefault("RIDEMARKET_SMOKE_MIGRATION", "migrations/0001_init.sql"), "Migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("RIDEMARKET_SMOKE_APPLY_MIGRATION", false), "Apply migration SQL before tests")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("RIDEMARKET_SMOKE_STRICT", false), "Fail on skipped cases")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("RIDEMARKET_SMOKE_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("RIDEMARKET_SMOKE_CONCURRENCY", 10), "Drivers racing for one request")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("RIDEMARKET_SMOKE_DURATION", 0), "Load phase duration; 0 skips it")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
