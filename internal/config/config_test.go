package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Port", cfg.Port, "8787"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"Environment", cfg.Environment, "production"},
		{"KVBackend", cfg.KVBackend, KVBackendMemory},
		{"SessionBackend", cfg.SessionBackend, SessionBackendMemory},
		{"RegistryURL", cfg.RegistryURL, "https://registry.npmjs.org"},
		{"RegistrySearchURL", cfg.RegistrySearchURL, "https://registry.npmjs.org/-/v1/search"},
		{"OTELServiceName", cfg.OTELServiceName, "marketplace-mcp"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}

	if cfg.RateLimitHourly != 0 || cfg.RateLimitDaily != 0 {
		t.Errorf("production limits = %d/%d, want unlimited", cfg.RateLimitHourly, cfg.RateLimitDaily)
	}
	if cfg.SessionIdleTTL != 24*time.Hour {
		t.Errorf("SessionIdleTTL = %v, want 24h", cfg.SessionIdleTTL)
	}
	if cfg.RegistryTimeout != 10*time.Second {
		t.Errorf("RegistryTimeout = %v, want 10s", cfg.RegistryTimeout)
	}
	if cfg.RegistryRPS != 10 {
		t.Errorf("RegistryRPS = %v, want 10", cfg.RegistryRPS)
	}
	if cfg.UsageWorkers != 2 {
		t.Errorf("UsageWorkers = %d, want 2", cfg.UsageWorkers)
	}
	if cfg.UsageSampleRate != 0.1 {
		t.Errorf("UsageSampleRate = %v, want 0.1", cfg.UsageSampleRate)
	}
}

func TestLoad_RateLimits(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantHourly int
		wantDaily  int
	}{
		{"development defaults", map[string]string{"ENVIRONMENT": "development"}, 100, 500},
		{"production unlimited", map[string]string{"ENVIRONMENT": "production"}, 0, 0},
		{"explicit limits", map[string]string{"RATE_LIMIT_HOURLY": "7", "RATE_LIMIT_DAILY": "70"}, 7, 70},
		{"disabled wins over development", map[string]string{"ENVIRONMENT": "development", "DISABLE_RATE_LIMITING": "true"}, 0, 0},
		{"disabled wins over explicit", map[string]string{"RATE_LIMIT_HOURLY": "7", "DISABLE_RATE_LIMITING": "true"}, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFrom(tc.env)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.RateLimitHourly != tc.wantHourly || cfg.RateLimitDaily != tc.wantDaily {
				t.Errorf("limits = %d/%d, want %d/%d", cfg.RateLimitHourly, cfg.RateLimitDaily, tc.wantHourly, tc.wantDaily)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad int", map[string]string{"RATE_LIMIT_HOURLY": "lots"}, "RATE_LIMIT_HOURLY"},
		{"negative limit", map[string]string{"RATE_LIMIT_DAILY": "-1"}, "negative"},
		{"bad duration", map[string]string{"SESSION_IDLE_TTL": "forever"}, "SESSION_IDLE_TTL"},
		{"bad float", map[string]string{"USAGE_SAMPLE_RATE": "half"}, "USAGE_SAMPLE_RATE"},
		{"sample rate out of range", map[string]string{"USAGE_SAMPLE_RATE": "1.5"}, "USAGE_SAMPLE_RATE"},
		{"unknown kv backend", map[string]string{"KV_BACKEND": "redis"}, "KV_BACKEND"},
		{"postgres without url", map[string]string{"KV_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown session backend", map[string]string{"SESSION_BACKEND": "cookie"}, "SESSION_BACKEND"},
		{"zero workers", map[string]string{"USAGE_WORKERS": "0"}, "USAGE_WORKERS"},
		{"missing config file", map[string]string{"CONFIG_FILE": "/nonexistent/config.yaml"}, "reading config file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFrom(tc.env)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("TEST_ADMIN_TOKEN", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `port: 9000
kv_backend: sqlite
sqlite_path: /var/lib/mcp/kv.db
rate_limit_hourly: 50
session_idle_ttl: 2h
usage_sample_rate: 0.5
admin_token: ${TEST_ADMIN_TOKEN}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(map[string]string{
		"CONFIG_FILE": path,
		"PORT":        "9100", // env overrides file
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want env override 9100", cfg.Port)
	}
	if cfg.KVBackend != KVBackendSQLite || cfg.SQLitePath != "/var/lib/mcp/kv.db" {
		t.Errorf("kv = %q %q", cfg.KVBackend, cfg.SQLitePath)
	}
	if cfg.RateLimitHourly != 50 {
		t.Errorf("RateLimitHourly = %d, want 50", cfg.RateLimitHourly)
	}
	if cfg.SessionIdleTTL != 2*time.Hour {
		t.Errorf("SessionIdleTTL = %v, want 2h", cfg.SessionIdleTTL)
	}
	if cfg.UsageSampleRate != 0.5 {
		t.Errorf("UsageSampleRate = %v, want 0.5", cfg.UsageSampleRate)
	}
	if cfg.AdminToken != "s3cret" {
		t.Errorf("AdminToken = %q, want expanded env value", cfg.AdminToken)
	}
}

func TestLoad_MalformedConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFrom(map[string]string{"CONFIG_FILE": path})
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
