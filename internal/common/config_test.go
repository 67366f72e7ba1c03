package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robin.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Environment != "live" {
		t.Errorf("Environment = %q, want live", cfg.Environment)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Transport.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cfg.Transport.MaxAttempts)
	}
	if got := cfg.Session.GetClockSkewMargin(); got != 30*time.Second {
		t.Errorf("ClockSkewMargin = %v, want 30s", got)
	}
	if got := cfg.Providers.Robinhood.GetTimeout(); got != 30*time.Second {
		t.Errorf("Robinhood timeout = %v, want 30s", got)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment = "sandbox"

[storage]
backend = "badger"
path = "/var/lib/robin/sessions"

[providers.gemini]
base_url = "https://api.sandbox.gemini.com"
rate_limit = 10

[transport]
max_attempts = 6
initial_backoff = "100ms"

[session]
clock_skew_margin = "45s"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "sandbox" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.Path != "/var/lib/robin/sessions" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Providers.Gemini.BaseURL != "https://api.sandbox.gemini.com" {
		t.Errorf("gemini base_url = %q", cfg.Providers.Gemini.BaseURL)
	}
	if cfg.Providers.Gemini.RateLimit != 10 {
		t.Errorf("gemini rate_limit = %d", cfg.Providers.Gemini.RateLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Providers.Robinhood.BaseURL != "https://api.robinhood.com" {
		t.Errorf("robinhood base_url = %q", cfg.Providers.Robinhood.BaseURL)
	}
	if cfg.Transport.MaxAttempts != 6 {
		t.Errorf("max_attempts = %d", cfg.Transport.MaxAttempts)
	}
	if got := cfg.Transport.GetInitialBackoff(); got != 100*time.Millisecond {
		t.Errorf("initial_backoff = %v", got)
	}
	if got := cfg.Session.GetClockSkewMargin(); got != 45*time.Second {
		t.Errorf("clock_skew_margin = %v", got)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "live" {
		t.Errorf("Environment = %q, want live", cfg.Environment)
	}
}

func TestLoadConfig_MalformedFileErrors(t *testing.T) {
	path := writeConfig(t, "environment = [broken")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ROBIN_ENV", "sandbox")
	t.Setenv("ROBIN_DATA_PATH", "/tmp/override")
	t.Setenv("ROBIN_STORAGE_BACKEND", "badger")
	t.Setenv("ROBIN_MAX_ATTEMPTS", "8")
	t.Setenv("ROBIN_CLOCK_SKEW_MARGIN", "1m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "sandbox" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Storage.Path != "/tmp/override" || cfg.Storage.Backend != "badger" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Transport.MaxAttempts != 8 {
		t.Errorf("max_attempts = %d", cfg.Transport.MaxAttempts)
	}
	if got := cfg.Session.GetClockSkewMargin(); got != time.Minute {
		t.Errorf("clock_skew_margin = %v", got)
	}
}

func TestIsSandbox(t *testing.T) {
	cases := []struct {
		env  string
		want bool
	}{
		{"live", false},
		{"sandbox", true},
		{"SANDBOX", true},
		{"paper", true},
		{" sandbox ", true},
		{"production", false},
		{"", false},
	}
	for _, tc := range cases {
		cfg := &Config{Environment: tc.env}
		if got := cfg.IsSandbox(); got != tc.want {
			t.Errorf("IsSandbox(%q) = %v, want %v", tc.env, got, tc.want)
		}
	}
}

func TestLoadConfig_NormalizesEnvironment(t *testing.T) {
	path := writeConfig(t, `environment = "paper"`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "sandbox" {
		t.Errorf("Environment = %q, want sandbox", cfg.Environment)
	}
}

func TestTransportConfig_DurationFallbacks(t *testing.T) {
	c := &TransportConfig{InitialBackoff: "not a duration"}
	if got := c.GetInitialBackoff(); got != 250*time.Millisecond {
		t.Errorf("initial backoff fallback = %v", got)
	}
	if got := c.GetMaxBackoff(); got != 10*time.Second {
		t.Errorf("max backoff fallback = %v", got)
	}
	if got := c.GetRetryAfterCap(); got != 30*time.Second {
		t.Errorf("retry-after cap fallback = %v", got)
	}
}
