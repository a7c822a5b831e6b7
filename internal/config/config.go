package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the curator chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionEndedRetention    time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	Env      string
	LogLevel string
	LogFile  string

	BrainMode           string
	GeminiAPIKey        string
	GeminiModel         string
	GeminiVerifyOnStart bool
	BrainHTTPURL        string
	UpstreamTimeout     time.Duration

	CatalogPath        string
	CatalogDatabaseURL string
	CatalogCacheTTL    time.Duration
	CatalogWatch       bool

	HistoryMaxTurns            int
	PersonaMaxInstructionChars int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "curator"),
		AllowAnyOrigin:   false,
		Env:              envOrDefault("APP_ENV", "development"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFile:          stringsTrimSpace("APP_LOG_FILE"),
		BrainMode:        envOrDefault("BRAIN_MODE", "auto"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		BrainHTTPURL:     stringsTrimSpace("BRAIN_HTTP_URL"),
		// The original desktop app read the catalog from the working directory.
		CatalogPath:              envOrDefault("CATALOG_PATH", "library_database.json"),
		CatalogDatabaseURL:       stringsTrimSpace("CATALOG_DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		SessionEndedRetention:    10 * time.Minute,
		UpstreamTimeout:          60 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionEndedRetention, err = durationFromEnv("APP_SESSION_ENDED_RETENTION", cfg.SessionEndedRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamTimeout, err = durationFromEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogCacheTTL, err = durationFromEnv("CATALOG_CACHE_TTL", cfg.CatalogCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiVerifyOnStart, err = boolFromEnv("GEMINI_VERIFY_ON_START", cfg.GeminiVerifyOnStart)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogWatch, err = boolFromEnv("CATALOG_WATCH", cfg.CatalogWatch)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaMaxInstructionChars, err = intFromEnv("PERSONA_MAX_INSTRUCTION_CHARS", cfg.PersonaMaxInstructionChars)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SessionEndedRetention < time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_ENDED_RETENTION must be at least 1s")
	}
	if cfg.UpstreamTimeout < 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT must be >= 0")
	}
	if cfg.CatalogCacheTTL < 0 {
		return Config{}, fmt.Errorf("CATALOG_CACHE_TTL must be >= 0")
	}
	if cfg.HistoryMaxTurns < 0 {
		return Config{}, fmt.Errorf("HISTORY_MAX_TURNS must be >= 0")
	}
	if cfg.PersonaMaxInstructionChars < 0 {
		return Config{}, fmt.Errorf("PERSONA_MAX_INSTRUCTION_CHARS must be >= 0")
	}
	switch strings.ToLower(cfg.BrainMode) {
	case "auto", "gemini", "http", "mock":
	default:
		return Config{}, fmt.Errorf("BRAIN_MODE must be one of auto, gemini, http, mock")
	}
	if cfg.CatalogWatch && cfg.CatalogDatabaseURL != "" {
		return Config{}, fmt.Errorf("CATALOG_WATCH only applies to file catalogs; unset CATALOG_DATABASE_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
