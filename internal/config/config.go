package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Owner directory backends.
const (
	OwnersStatic   = "static"
	OwnersSupabase = "supabase"
	OwnersHTTP     = "http"
)

// Config holds all application configuration.
// Defaults are overridden by the optional YAML file named in CONFIG_FILE,
// which is in turn overridden by environment variables.
type Config struct {
	// Server
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ServiceName     string        `yaml:"service_name"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Storage
	Storage     string `yaml:"storage"`
	DatabaseURL string `yaml:"database_url"`
	WALPath     string `yaml:"wal_path"`

	// Ledger
	AccountNumberAttempts int    `yaml:"account_number_attempts"`
	DefaultAccountType    string `yaml:"default_account_type"`

	// Owner directory
	OwnerBackend string   `yaml:"owner_backend"`
	StaticOwners []string `yaml:"static_owners"`
	OwnerAPIURL  string   `yaml:"owner_api_url"`

	// HTTP client
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Resilience
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	// Cache
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Observability
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Supabase
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseAnonKey    string `yaml:"supabase_anon_key"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`

	// JWT. An empty secret disables authentication.
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTAccessTTL time.Duration `yaml:"jwt_access_ttl"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:            8080,
		LogLevel:        "info",
		ServiceName:     "bank-ledger",
		ShutdownTimeout: 10 * time.Second,

		Storage: StorageMemory,

		AccountNumberAttempts: 5,
		DefaultAccountType:    "SAVINGS",

		OwnerBackend: OwnersStatic,
		StaticOwners: []string{"demo-owner"},
		OwnerAPIURL:  "http://localhost:8081",

		HTTPTimeout: 10 * time.Second,

		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxConcurrency: 50,

		CacheTTL: 5 * time.Minute,

		JWTAccessTTL: 15 * time.Minute,
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.ServiceName = getEnv("OTEL_SERVICE_NAME", c.ServiceName)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Storage = strings.ToLower(getEnv("STORAGE", c.Storage))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.WALPath = getEnv("WAL_PATH", c.WALPath)

	c.AccountNumberAttempts = getEnvInt("ACCOUNT_NUMBER_ATTEMPTS", c.AccountNumberAttempts)
	c.DefaultAccountType = getEnv("DEFAULT_ACCOUNT_TYPE", c.DefaultAccountType)

	c.OwnerBackend = strings.ToLower(getEnv("OWNER_BACKEND", c.OwnerBackend))
	c.StaticOwners = getEnvList("STATIC_OWNERS", c.StaticOwners)
	c.OwnerAPIURL = getEnv("OWNER_API_URL", c.OwnerAPIURL)

	c.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", c.HTTPTimeout)

	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.InitialBackoff = getEnvDuration("INITIAL_BACKOFF", c.InitialBackoff)
	c.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", c.MaxConcurrency)

	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseAnonKey = getEnv("SUPABASE_ANON_KEY", c.SupabaseAnonKey)
	c.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceKey)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTAccessTTL = getEnvDuration("JWT_ACCESS_TTL", c.JWTAccessTTL)
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}

	switch c.OwnerBackend {
	case OwnersStatic:
	case OwnersSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("config: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase owner backend")
		}
	case OwnersHTTP:
		if c.OwnerAPIURL == "" {
			return fmt.Errorf("config: OWNER_API_URL is required for the http owner backend")
		}
	default:
		return fmt.Errorf("config: unknown owner backend %q", c.OwnerBackend)
	}

	if c.AccountNumberAttempts < 1 {
		return fmt.Errorf("config: ACCOUNT_NUMBER_ATTEMPTS must be at least 1")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}

// AuthEnabled reports whether /v1 requires bearer tokens.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
