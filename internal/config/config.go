package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/dxenrich/internal/platform/middleware"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	LookupBaseURL            string        `mapstructure:"LOOKUP_BASE_URL"`
	LookupTimeout            time.Duration `mapstructure:"LOOKUP_TIMEOUT"`
	LookupMaxRetries         int           `mapstructure:"LOOKUP_MAX_RETRIES"`
	LookupInsecureSkipVerify bool          `mapstructure:"LOOKUP_INSECURE_SKIP_VERIFY"`
	LookupFailFast           bool          `mapstructure:"LOOKUP_FAIL_FAST"`
	LookupRateLimit          float64       `mapstructure:"LOOKUP_RATE_LIMIT"`
	LookupRateBurst          int           `mapstructure:"LOOKUP_RATE_BURST"`
	FanoutWorkers            int           `mapstructure:"FANOUT_WORKERS"`
	DefaultStrategy          string        `mapstructure:"DEFAULT_STRATEGY"`
	PriorityKeywords         []string      `mapstructure:"PRIORITY_KEYWORDS"`
	RunHistoryLimit          int           `mapstructure:"RUN_HISTORY_LIMIT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
}

// DefaultLookupBaseURL is the public NLM ICD-10-CM search endpoint.
const DefaultLookupBaseURL = "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search"

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"LOOKUP_BASE_URL", "LOOKUP_TIMEOUT", "LOOKUP_MAX_RETRIES", "LOOKUP_INSECURE_SKIP_VERIFY",
	"LOOKUP_FAIL_FAST", "LOOKUP_RATE_LIMIT", "LOOKUP_RATE_BURST", "FANOUT_WORKERS",
	"DEFAULT_STRATEGY", "PRIORITY_KEYWORDS", "RUN_HISTORY_LIMIT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "BODY_LIMIT", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

var strategies = map[string]bool{"sequential": true, "reused": true, "concurrent": true}

// Load reads configuration from the environment, overlaid on an optional
// .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("LOOKUP_BASE_URL", DefaultLookupBaseURL)
	v.SetDefault("LOOKUP_TIMEOUT", "10s")
	v.SetDefault("LOOKUP_MAX_RETRIES", 0)
	v.SetDefault("LOOKUP_INSECURE_SKIP_VERIFY", false)
	v.SetDefault("LOOKUP_FAIL_FAST", false)
	v.SetDefault("LOOKUP_RATE_LIMIT", 0)
	v.SetDefault("LOOKUP_RATE_BURST", 1)
	v.SetDefault("FANOUT_WORKERS", 16)
	v.SetDefault("DEFAULT_STRATEGY", "concurrent")
	v.SetDefault("PRIORITY_KEYWORDS", "respiratory failure,covid")
	v.SetDefault("RUN_HISTORY_LIMIT", 100)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.PriorityKeywords = splitList(v.GetString("PRIORITY_KEYWORDS"))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether run history should be kept in PostgreSQL.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// AuthEnabled reports whether the API requires bearer tokens.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// BodyLimitBytes returns BODY_LIMIT in bytes.
func (c *Config) BodyLimitBytes() (int64, error) {
	return middleware.ParseLimit(c.BodyLimit)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !strategies[c.DefaultStrategy] {
		return fmt.Errorf("DEFAULT_STRATEGY must be sequential, reused or concurrent, got %q", c.DefaultStrategy)
	}
	if c.FanoutWorkers <= 0 {
		return fmt.Errorf("FANOUT_WORKERS must be positive, got %d", c.FanoutWorkers)
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("LOOKUP_TIMEOUT must be positive, got %s", c.LookupTimeout)
	}
	if c.LookupMaxRetries < 0 {
		return fmt.Errorf("LOOKUP_MAX_RETRIES must not be negative, got %d", c.LookupMaxRetries)
	}
	if c.LookupRateLimit < 0 {
		return fmt.Errorf("LOOKUP_RATE_LIMIT must not be negative, got %v", c.LookupRateLimit)
	}
	if c.LookupBaseURL == "" {
		return fmt.Errorf("LOOKUP_BASE_URL is required")
	}
	u, err := url.Parse(c.LookupBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("LOOKUP_BASE_URL must be an absolute http(s) url, got %q", c.LookupBaseURL)
	}
	if _, err := c.BodyLimitBytes(); err != nil {
		return fmt.Errorf("BODY_LIMIT: %w", err)
	}

	// HS256 keys shorter than the hash output are brute-forceable.
	if c.IsProduction() && c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production, got %d", len(c.AuthSigningKey))
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
