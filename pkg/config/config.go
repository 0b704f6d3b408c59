// Package config loads the process configuration from the environment.
//
// There is no configuration file beyond an optional .env loaded by main:
// everything is a flat environment frame, parsed once at startup. Schedule
// cadence (run times, enabled days) is deliberately NOT here; it lives in
// database singletons so operators can change it at runtime via the API.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	Feed       FeedConfig
	Thresholds Thresholds
}

// FeedConfig controls the threat-intel feed client and the collection cadence
// guards applied per actor.
type FeedConfig struct {
	// APIKey is sent as x-apikey on every feed request.
	APIKey string

	// FilesFallbackLimit caps how many sample hashes the files fallback
	// inspects per actor.
	FilesFallbackLimit int

	// ScanMinInterval is the per-actor throttle between scheduled scans.
	// Zero or negative disables throttling.
	ScanMinInterval time.Duration

	// RequestsPerMinute paces feed requests. Zero or negative means unlimited.
	RequestsPerMinute int
}

// LoadFromEnv builds the configuration from environment variables, applying
// defaults for everything optional. Malformed tactic-threshold overrides are
// logged and skipped, never fatal.
func LoadFromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	fallbackLimit, err := strconv.Atoi(getEnvOrDefault("VT_FILES_FALLBACK_LIMIT", "40"))
	if err != nil {
		return nil, fmt.Errorf("invalid VT_FILES_FALLBACK_LIMIT: %w", err)
	}

	scanIntervalMin, err := strconv.Atoi(getEnvOrDefault("VT_SCAN_MIN_INTERVAL_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid VT_SCAN_MIN_INTERVAL_MINUTES: %w", err)
	}

	rpm, err := strconv.Atoi(getEnvOrDefault("FEED_REQUESTS_PER_MINUTE", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_REQUESTS_PER_MINUTE: %w", err)
	}

	minSightings, err := strconv.Atoi(getEnvOrDefault("NEW_ALERT_MIN_SIGHTINGS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid NEW_ALERT_MIN_SIGHTINGS: %w", err)
	}

	minDays, err := strconv.Atoi(getEnvOrDefault("NEW_ALERT_MIN_DISTINCT_DAYS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid NEW_ALERT_MIN_DISTINCT_DAYS: %w", err)
	}

	wlSightings, err := strconv.Atoi(getEnvOrDefault("WATCHLIST_MIN_SIGHTINGS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid WATCHLIST_MIN_SIGHTINGS: %w", err)
	}

	wlDays, err := strconv.Atoi(getEnvOrDefault("WATCHLIST_MIN_DISTINCT_DAYS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid WATCHLIST_MIN_DISTINCT_DAYS: %w", err)
	}

	overrides, skipped := ParseTacticOverrides(os.Getenv("NEW_ALERT_TACTIC_THRESHOLD_OVERRIDES"))
	for _, entry := range skipped {
		slog.Warn("Ignoring malformed tactic threshold override", "entry", entry)
	}

	return &Config{
		Port:     port,
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		Feed: FeedConfig{
			APIKey:             os.Getenv("VT_API_KEY"),
			FilesFallbackLimit: fallbackLimit,
			ScanMinInterval:    time.Duration(scanIntervalMin) * time.Minute,
			RequestsPerMinute:  rpm,
		},
		Thresholds: Thresholds{
			MinSightings:             minSightings,
			MinDistinctDays:          minDays,
			Watchlist:                ParseWatchlist(os.Getenv("WATCHLIST_TECHNIQUES")),
			WatchlistMinSightings:    wlSightings,
			WatchlistMinDistinctDays: wlDays,
			TacticOverrides:          overrides,
		},
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
