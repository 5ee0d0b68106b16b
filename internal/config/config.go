package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeSession     = "session"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	// devAdminPassword seeds the first Admin in development when
	// ADMIN_PASSWORD is unset.
	devAdminPassword = "admin123"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBLogQueries  bool   `mapstructure:"DB_LOG_QUERIES"`

	RedisURL      string        `mapstructure:"REDIS_URL"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	AuthJWTSecret string        `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string        `mapstructure:"AUTH_AUDIENCE"`

	AllowPastBookings bool `mapstructure:"ALLOW_PAST_BOOKINGS"`
	ClinicOpenHour    int  `mapstructure:"CLINIC_OPEN_HOUR"`
	ClinicCloseHour   int  `mapstructure:"CLINIC_CLOSE_HOUR"`
	SlotMinutes       int  `mapstructure:"SLOT_MINUTES"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	OTelEnabled  bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSampling float64 `mapstructure:"OTEL_SAMPLING_RATIO"`

	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
}

var defaults = map[string]any{
	"PORT":                "8000",
	"ENV":                 "development",
	"AUTH_MODE":           "", // "" -> inferred from ENV
	"CORS_ORIGINS":        "http://localhost:3000",
	"RATE_LIMIT_RPS":      20,
	"RATE_LIMIT_BURST":    40,
	"REQUEST_TIMEOUT":     "30s",
	"BODY_LIMIT":          "1M",
	"STORAGE_DRIVER":      StorageMemory,
	"DB_MAX_CONNS":        20,
	"DB_MIN_CONNS":        2,
	"SESSION_TTL":         "12h",
	"ALLOW_PAST_BOOKINGS": true,
	"CLINIC_OPEN_HOUR":    9,
	"CLINIC_CLOSE_HOUR":   17,
	"SLOT_MINUTES":        30,
	"KAFKA_TOPIC":         "clinic.appointments",
	"OTEL_SAMPLING_RATIO": 1.0,
	"ADMIN_USERNAME":      "admin",
	"ADMIN_EMAIL":         "admin@clinic.local",
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"STORAGE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_LOG_QUERIES",
	"REDIS_URL", "SESSION_TTL", "AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"ALLOW_PAST_BOOKINGS", "CLINIC_OPEN_HOUR", "CLINIC_CLOSE_HOUR", "SLOT_MINUTES",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
	"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_EMAIL",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma separated env value arrives as a single element.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
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

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get development mode and everything else session mode.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeSession
}

// BootstrapAdminPassword is the password given to the first Admin when the
// users table is empty. Outside development it is only ADMIN_PASSWORD, and an
// empty result means no account is created.
func (c *Config) BootstrapAdminPassword() string {
	if c.AdminPassword != "" {
		return c.AdminPassword
	}
	if c.IsDev() {
		return devAdminPassword
	}
	return ""
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

// Validate checks that the configuration is coherent enough to start.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != AuthModeDevelopment && mode != AuthModeSession {
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeSession, mode)
	}
	if c.IsProduction() && mode == AuthModeDevelopment {
		return fmt.Errorf("AUTH_MODE=development is refused when ENV=production")
	}

	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMemory, StoragePostgres, c.StorageDriver)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.AuthJWTSecret != "" && len(c.AuthJWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes, got %d", len(c.AuthJWTSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	if c.ClinicOpenHour < 0 || c.ClinicCloseHour > 24 || c.ClinicOpenHour >= c.ClinicCloseHour {
		return fmt.Errorf("clinic hours %d-%d are not a valid range", c.ClinicOpenHour, c.ClinicCloseHour)
	}
	if c.SlotMinutes <= 0 || c.SlotMinutes > 60*(c.ClinicCloseHour-c.ClinicOpenHour) {
		return fmt.Errorf("SLOT_MINUTES must fit within clinic hours, got %d", c.SlotMinutes)
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}

	if c.TLSEnabled() {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_KEY_FILE is set")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_CERT_FILE is set")
		}
	}

	if strings.TrimSpace(c.AdminUsername) == "" {
		return fmt.Errorf("ADMIN_USERNAME must not be empty")
	}

	if c.OTelSampling < 0 || c.OTelSampling > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0, 1], got %g", c.OTelSampling)
	}
	return nil
}
