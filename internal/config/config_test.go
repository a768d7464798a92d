package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexttrain/internal/arrivals"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nexttrain.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StopID != "1" {
		t.Errorf("StopID = %q, want %q", cfg.StopID, "1")
	}
	if cfg.StopName != "Grand Central" {
		t.Errorf("StopName = %q, want %q", cfg.StopName, "Grand Central")
	}
	if cfg.Limit != 5 {
		t.Errorf("Limit = %d, want 5", cfg.Limit)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
stop_id: "237"
stop_name: Jamaica
limit: 3
timezone: America/New_York
poll_interval: 1m
nats_url: nats://127.0.0.1:4222
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StopID != "237" || cfg.StopName != "Jamaica" {
		t.Errorf("stop = (%q, %q), want (237, Jamaica)", cfg.StopID, cfg.StopName)
	}
	if cfg.Limit != 3 {
		t.Errorf("Limit = %d, want 3", cfg.Limit)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", cfg.PollInterval)
	}
	// unset keys keep their defaults
	if cfg.FetchTimeout != 15*time.Second {
		t.Errorf("FetchTimeout = %v, want 15s", cfg.FetchTimeout)
	}
	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "stop_id: \"237\"\nlimit: 3\n")
	t.Setenv("NEXTTRAIN_STOP_ID", "102")
	t.Setenv("NEXTTRAIN_LIMIT", "8")
	t.Setenv("NEXTTRAIN_POLL_INTERVAL", "45s")
	t.Setenv("NEXTTRAIN_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StopID != "102" {
		t.Errorf("StopID = %q, want 102", cfg.StopID)
	}
	if cfg.Limit != 8 {
		t.Errorf("Limit = %d, want 8", cfg.Limit)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("NEXTTRAIN_LIMIT", "many")
	t.Setenv("NEXTTRAIN_POLL_INTERVAL", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limit != 5 || cfg.PollInterval != 30*time.Second {
		t.Errorf("unparseable env should fall back: Limit=%d PollInterval=%v", cfg.Limit, cfg.PollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero limit", "limit: 0\n"},
		{"empty stop", "stop_id: \"\"\n"},
		{"bad feed url", "feed_url: not a url\n"},
		{"poll too fast", "poll_interval: 100ms\n"},
		{"unknown log level", "log_level: loud\n"},
		{"bad timezone", "timezone: Mars/Olympus_Mons\n"},
		{"malformed yaml", "limit: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Errorf("Load(%q) should fail", tt.yaml)
			}
		})
	}
}

func TestValidate_LimitBound(t *testing.T) {
	cfg := Defaults()
	cfg.Limit = arrivals.MaxLimit
	if err := cfg.Validate(); err != nil {
		t.Errorf("Limit = %d should be valid: %v", cfg.Limit, err)
	}

	cfg.Limit = arrivals.MaxLimit + 1
	if err := cfg.Validate(); err == nil {
		t.Errorf("Limit = %d should be rejected", cfg.Limit)
	}

	if _, err := Load(writeConfig(t, fmt.Sprintf("limit: %d\n", arrivals.MaxLimit+1))); err == nil {
		t.Error("Load should reject a limit above the API maximum")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestLocation(t *testing.T) {
	cfg := Defaults()
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Location() = (%v, %v), want time.Local", loc, err)
	}

	cfg.Timezone = "UTC"
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "UTC" {
		t.Errorf("Location() = %v, want UTC", loc)
	}
}
