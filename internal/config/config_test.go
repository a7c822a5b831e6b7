package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.BrainMode != "auto" {
		t.Fatalf("BrainMode = %q, want %q", cfg.BrainMode, "auto")
	}
	if cfg.GeminiModel != "gemini-2.5-flash" {
		t.Fatalf("GeminiModel = %q, want gemini-2.5-flash", cfg.GeminiModel)
	}
	if cfg.CatalogPath != "library_database.json" {
		t.Fatalf("CatalogPath = %q, want library_database.json", cfg.CatalogPath)
	}
	if cfg.HistoryMaxTurns != 0 || cfg.PersonaMaxInstructionChars != 0 {
		t.Fatalf("history/instruction caps = %d/%d, want unbounded", cfg.HistoryMaxTurns, cfg.PersonaMaxInstructionChars)
	}
	if cfg.CatalogCacheTTL != 0 || cfg.CatalogWatch {
		t.Fatalf("catalog cache = %s watch=%v, want no expiry and no watch", cfg.CatalogCacheTTL, cfg.CatalogWatch)
	}
	if cfg.GeminiAPIKey != "" {
		t.Fatalf("GeminiAPIKey = %q, want empty default", cfg.GeminiAPIKey)
	}
	if cfg.SessionEndedRetention != 10*time.Minute {
		t.Fatalf("SessionEndedRetention = %s, want 10m", cfg.SessionEndedRetention)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("GEMINI_API_KEY", "  key-123 \n")
	t.Setenv("BRAIN_MODE", "gemini")
	t.Setenv("UPSTREAM_TIMEOUT", "15s")
	t.Setenv("CATALOG_CACHE_TTL", "5m")
	t.Setenv("CATALOG_WATCH", "yes")
	t.Setenv("HISTORY_MAX_TURNS", "12")
	t.Setenv("PERSONA_MAX_INSTRUCTION_CHARS", "20000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeminiAPIKey != "key-123" {
		t.Fatalf("GeminiAPIKey = %q, want trimmed value", cfg.GeminiAPIKey)
	}
	if cfg.UpstreamTimeout != 15*time.Second || cfg.CatalogCacheTTL != 5*time.Minute {
		t.Fatalf("durations = %s/%s", cfg.UpstreamTimeout, cfg.CatalogCacheTTL)
	}
	if !cfg.CatalogWatch || cfg.HistoryMaxTurns != 12 || cfg.PersonaMaxInstructionChars != 20000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":    {"UPSTREAM_TIMEOUT", "soon"},
		"short session":   {"APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
		"short retention": {"APP_SESSION_ENDED_RETENTION", "10ms"},
		"negative window": {"HISTORY_MAX_TURNS", "-1"},
		"bad bool":        {"CATALOG_WATCH", "maybe"},
		"unknown brain":   {"BRAIN_MODE", "telepathy"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%s", kv[0], kv[1])
			}
			if !strings.Contains(err.Error(), kv[0]) {
				t.Fatalf("error %q does not name %s", err, kv[0])
			}
		})
	}
}

func TestLoadRejectsWatchWithDatabase(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CATALOG_WATCH", "true")
	t.Setenv("CATALOG_DATABASE_URL", "postgres://localhost/library")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_SESSION_ENDED_RETENTION",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_ENV",
		"APP_LOG_LEVEL",
		"APP_LOG_FILE",
		"BRAIN_MODE",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GEMINI_VERIFY_ON_START",
		"BRAIN_HTTP_URL",
		"UPSTREAM_TIMEOUT",
		"CATALOG_PATH",
		"CATALOG_DATABASE_URL",
		"CATALOG_CACHE_TTL",
		"CATALOG_WATCH",
		"HISTORY_MAX_TURNS",
		"PERSONA_MAX_INSTRUCTION_CHARS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
