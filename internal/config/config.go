package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	KVBackendMemory   = "memory"
	KVBackendPostgres = "postgres"
	KVBackendSQLite   = "sqlite"

	SessionBackendMemory = "memory"
	SessionBackendKV     = "kv"
)

type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	Environment string

	DisableRateLimiting bool
	RateLimitHourly     int
	RateLimitDaily      int

	KVBackend   string
	DatabaseURL string
	SQLitePath  string

	SessionBackend string
	SessionIdleTTL time.Duration

	RegistryURL       string
	RegistrySearchURL string
	RegistryTimeout   time.Duration
	RegistryRPS       float64

	UsageWorkers    int
	UsageSampleRate float64

	AdminToken      string
	OTELServiceName string
}

// Development reports whether the deployment runs in development mode.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables, layered over the YAML
// file named by CONFIG_FILE when set.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from the provided map, falling back to os.Getenv
// for missing keys. If env is nil, all values come from os.Getenv. Values from
// the CONFIG_FILE YAML document are used only for keys absent from env.
func LoadFrom(env map[string]string) (*Config, error) {
	lookup := func(key string) string {
		if env != nil {
			return env[key]
		}
		return os.Getenv(key)
	}

	var file map[string]string
	if path := lookup("CONFIG_FILE"); path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			return nil, err
		}
	}

	get := func(key string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return file[key]
	}

	cfg := &Config{}
	var err error

	// Strings with defaults
	cfg.Port = getOrDefault(get, "PORT", "8787")
	cfg.LogLevel = getOrDefault(get, "LOG_LEVEL", "info")
	cfg.LogFormat = getOrDefault(get, "LOG_FORMAT", "json")
	cfg.Environment = getOrDefault(get, "ENVIRONMENT", "production")
	cfg.KVBackend = getOrDefault(get, "KV_BACKEND", KVBackendMemory)
	cfg.SQLitePath = getOrDefault(get, "SQLITE_PATH", "marketplace-mcp.db")
	cfg.SessionBackend = getOrDefault(get, "SESSION_BACKEND", SessionBackendMemory)
	cfg.RegistryURL = getOrDefault(get, "REGISTRY_URL", "https://registry.npmjs.org")
	cfg.RegistrySearchURL = getOrDefault(get, "REGISTRY_SEARCH_URL", "https://registry.npmjs.org/-/v1/search")
	cfg.OTELServiceName = getOrDefault(get, "OTEL_SERVICE_NAME", "marketplace-mcp")

	// Optional strings
	cfg.DatabaseURL = get("DATABASE_URL")
	cfg.AdminToken = get("ADMIN_TOKEN")

	// Rate limits: development deployments default to 100/h and 500/day,
	// everything else is unlimited unless configured.
	defaultHourly, defaultDaily := 0, 0
	if cfg.Development() {
		defaultHourly, defaultDaily = 100, 500
	}
	cfg.DisableRateLimiting = getBoolOrDefault(get, "DISABLE_RATE_LIMITING", false)
	cfg.RateLimitHourly, err = getIntOrDefault(get, "RATE_LIMIT_HOURLY", defaultHourly)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitDaily, err = getIntOrDefault(get, "RATE_LIMIT_DAILY", defaultDaily)
	if err != nil {
		return nil, err
	}
	if cfg.DisableRateLimiting {
		cfg.RateLimitHourly, cfg.RateLimitDaily = 0, 0
	}

	// Durations
	cfg.SessionIdleTTL, err = getDurationOrDefault(get, "SESSION_IDLE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.RegistryTimeout, err = getDurationOrDefault(get, "REGISTRY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	// Numbers
	cfg.RegistryRPS, err = getFloatOrDefault(get, "REGISTRY_RPS", 10)
	if err != nil {
		return nil, err
	}
	cfg.UsageWorkers, err = getIntOrDefault(get, "USAGE_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	cfg.UsageSampleRate, err = getFloatOrDefault(get, "USAGE_SAMPLE_RATE", 0.1)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.KVBackend {
	case KVBackendMemory, KVBackendSQLite:
	case KVBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when KV_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be one of memory, postgres, sqlite (got %q)", c.KVBackend)
	}

	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendKV:
	default:
		return fmt.Errorf("SESSION_BACKEND must be memory or kv (got %q)", c.SessionBackend)
	}

	if c.RateLimitHourly < 0 || c.RateLimitDaily < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.RegistryRPS <= 0 {
		return fmt.Errorf("REGISTRY_RPS must be positive")
	}
	if c.UsageWorkers < 1 {
		return fmt.Errorf("USAGE_WORKERS must be at least 1")
	}
	if c.UsageSampleRate < 0 || c.UsageSampleRate > 1 {
		return fmt.Errorf("USAGE_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// readFile loads a flat YAML document whose keys are configuration names in
// either case (port, rate_limit_hourly, ...). ${VAR} references are expanded
// from the environment before parsing.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envRef.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func getOrDefault(get func(string) string, key, defaultVal string) string {
	if v := get(key); v != "" {
		return v
	}
	return defaultVal
}

func getBoolOrDefault(get func(string) string, key string, defaultVal bool) bool {
	v := get(key)
	if v == "" {
		return defaultVal
	}
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

func getIntOrDefault(get func(string) string, key string, defaultVal int) (int, error) {
	v := get(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func getFloatOrDefault(get func(string) string, key string, defaultVal float64) (float64, error) {
	v := get(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return f, nil
}

func getDurationOrDefault(get func(string) string, key string, defaultVal time.Duration) (time.Duration, error) {
	v := get(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return d, nil
}
