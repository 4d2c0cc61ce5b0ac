// Package config provides configuration for the sync engine, loaded from
// environment variables and an optional .env file at process start.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the sync engine configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	BaaS    BaaSConfig
	Cache   CacheConfig
	Storage StorageConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// BaaSConfig holds the backend-as-a-service connection settings.
type BaaSConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co
	URL string
	// AnonKey is the public API key sent with every request.
	AnonKey string
	// HTTPTimeout bounds each network call (default: 15s).
	HTTPTimeout time.Duration
	// RateRPS / RateBurst bound outbound request rate per endpoint class.
	RateRPS   float64
	RateBurst int
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	// FreshnessWindow is how long a fetched value is served without
	// revalidation (default: 60s).
	FreshnessWindow time.Duration
	// SnapshotPath is the directory for the offline snapshot store.
	// Empty disables snapshotting.
	SnapshotPath string
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	// Bucket is the storage bucket for cover and chapter images.
	Bucket string
}

// Load reads configuration with precedence:
// 1. Environment variables.
// 2. .env file (if present at envFile, "" means ".env").
// 3. Default values.
//
// The engine is embedded in host applications, so no command-line flags are
// registered here.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env if it exists (silently ignore if not found).
	_ = loadEnvFile(envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("TALLY_ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getEnv("TALLY_LOG_LEVEL", "info"),
		},
		BaaS: BaaSConfig{
			URL:       getEnv("TALLY_BAAS_URL", ""),
			AnonKey:   getEnv("TALLY_ANON_KEY", ""),
			RateRPS:   getFloatEnv("TALLY_RATE_RPS", 10),
			RateBurst: getIntEnv("TALLY_RATE_BURST", 20),
		},
		Cache: CacheConfig{
			SnapshotPath: getEnv("TALLY_SNAPSHOT_PATH", ""),
		},
		Storage: StorageConfig{
			Bucket: getEnv("TALLY_STORAGE_BUCKET", "tally"),
		},
	}

	timeoutStr := getEnv("TALLY_HTTP_TIMEOUT", "15s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid http timeout %q: %w", timeoutStr, err)
	}
	cfg.BaaS.HTTPTimeout = timeout

	freshStr := getEnv("TALLY_CACHE_FRESHNESS", "60s")
	fresh, err := time.ParseDuration(freshStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cache freshness window %q: %w", freshStr, err)
	}
	cfg.Cache.FreshnessWindow = fresh

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.BaaS.URL == "" {
		return errors.New("TALLY_BAAS_URL is required")
	}
	if u, err := url.Parse(c.BaaS.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid TALLY_BAAS_URL: %s", c.BaaS.URL)
	}
	if c.BaaS.AnonKey == "" {
		return errors.New("TALLY_ANON_KEY is required")
	}
	if c.Cache.FreshnessWindow <= 0 {
		return errors.New("cache freshness window must be positive")
	}
	if c.BaaS.RateRPS <= 0 || c.BaaS.RateBurst <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage bucket cannot be empty")
	}

	return nil
}

// getEnv returns the environment value or the default.
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getIntEnv returns an int from the environment or the default.
func getIntEnv(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(v, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatEnv returns a float64 from the environment or the default.
func getFloatEnv(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(v, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from caller is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Real environment takes precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
