// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config groups every configuration section.
type Config struct {
	Server   Server
	Auth     Auth
	Provider Provider
	Postgres Postgres
	Redis    RedisConfig
	Kafka    Kafka
	Limits   Limits
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr               string
	Env                string
	LogLevel           string
	AllowedOrigins     []string
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration
	MetricsEnabled     bool
	ReadHeaderTimeout  time.Duration
	MaxWebhookBodySize int64
}

// IsProduction reports whether the service runs in production mode.
func (s Server) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

// Auth configures bearer-token validation against the identity platform.
type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// Provider configures the identity provider client and webhook trust.
type Provider struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	// SignatureTolerance bounds webhook timestamp age; 0 disables the check.
	SignatureTolerance time.Duration
}

// Postgres configures the profile store. An empty URL selects in-memory stores.
type Postgres struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig configures the event dedup store. An empty URL selects the
// in-process cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the verification notifier. No brokers disables it.
type Kafka struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Limits caps how often a user may open new provider sessions.
type Limits struct {
	SessionsPerWindow int
	SessionWindow     time.Duration
	DedupTTL          time.Duration
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: Server{
			Addr:               v.GetString("KINSHIP_ADDR"),
			Env:                v.GetString("APP_ENV"),
			LogLevel:           v.GetString("LOG_LEVEL"),
			AllowedOrigins:     splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),
			RequestTimeout:     v.GetDuration("REQUEST_TIMEOUT"),
			MetricsEnabled:     v.GetBool("METRICS_ENABLED"),
			ReadHeaderTimeout:  v.GetDuration("READ_HEADER_TIMEOUT"),
			MaxWebhookBodySize: v.GetInt64("MAX_BODY_BYTES"),
		},
		Auth: Auth{
			JWTSigningKey: v.GetString("JWT_SIGNING_KEY"),
			JWTIssuer:     v.GetString("JWT_ISSUER"),
			JWTAudience:   v.GetString("JWT_AUDIENCE"),
		},
		Provider: Provider{
			BaseURL:            v.GetString("PROVIDER_BASE_URL"),
			APIKey:             v.GetString("PROVIDER_API_KEY"),
			WebhookSecret:      v.GetString("PROVIDER_WEBHOOK_SECRET"),
			Timeout:            v.GetDuration("PROVIDER_TIMEOUT"),
			SignatureTolerance: v.GetDuration("WEBHOOK_SIGNATURE_TOLERANCE"),
		},
		Postgres: Postgres{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			AutoMigrate:     v.GetBool("DATABASE_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Kafka: Kafka{
			Brokers:  splitList(v.GetString("KAFKA_BROKERS")),
			Topic:    v.GetString("KAFKA_VERIFICATION_TOPIC"),
			ClientID: v.GetString("KAFKA_CLIENT_ID"),
		},
		Limits: Limits{
			SessionsPerWindow: v.GetInt("VERIFICATION_SESSIONS_PER_WINDOW"),
			SessionWindow:     v.GetDuration("VERIFICATION_SESSION_WINDOW"),
			DedupTTL:          v.GetDuration("WEBHOOK_DEDUP_TTL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("KINSHIP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("READ_HEADER_TIMEOUT", "5s")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	v.SetDefault("JWT_SIGNING_KEY", "dev-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "authenticated")

	v.SetDefault("PROVIDER_BASE_URL", "https://api.stripe.com")
	v.SetDefault("PROVIDER_API_KEY", "")
	v.SetDefault("PROVIDER_WEBHOOK_SECRET", "")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_SIGNATURE_TOLERANCE", "5m")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_VERIFICATION_TOPIC", "verification.events")
	v.SetDefault("KAFKA_CLIENT_ID", "kinship")

	v.SetDefault("VERIFICATION_SESSIONS_PER_WINDOW", 5)
	v.SetDefault("VERIFICATION_SESSION_WINDOW", "1h")
	v.SetDefault("WEBHOOK_DEDUP_TTL", "72h")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("KINSHIP_ADDR must not be empty"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.Provider.SignatureTolerance < 0 {
		errs = append(errs, errors.New("WEBHOOK_SIGNATURE_TOLERANCE must not be negative"))
	}
	if c.Limits.SessionsPerWindow < 0 {
		errs = append(errs, errors.New("VERIFICATION_SESSIONS_PER_WINDOW must not be negative"))
	}
	if c.Server.IsProduction() {
		if c.Provider.APIKey == "" {
			errs = append(errs, errors.New("PROVIDER_API_KEY is required in production"))
		}
		if c.Provider.WebhookSecret == "" {
			errs = append(errs, errors.New("PROVIDER_WEBHOOK_SECRET is required in production"))
		}
		if c.Auth.JWTSigningKey == "" || c.Auth.JWTSigningKey == "dev-secret-key-change-in-production" {
			errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
		}
	}
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
