package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Log         LogConfig         `mapstructure:"log"`
	Security    SecurityConfig    `mapstructure:"security"`
	Email       EmailConfig       `mapstructure:"email"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Sequence    SequenceConfig    `mapstructure:"sequence"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
	// ConnMaxLifetime recycles pooled connections; idle ones close after half of it
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig holds the registration event consumer settings.
// An empty URL disables the consumer.
type NATSConfig struct {
	URL               string `mapstructure:"url"`
	RegisteredSubject string `mapstructure:"registered_subject"`
	// Stream is the JetStream stream capturing RegisteredSubject; created if missing
	Stream string `mapstructure:"stream"`
	// Durable is the pull consumer name shared by all replicas
	Durable string `mapstructure:"durable"`
	// RetryDelay is how long a failed event waits before redelivery
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	// CronSecret is the bearer token required by internal endpoints
	// (batch trigger, registration callback, delivery history).
	CronSecret string `mapstructure:"cron_secret"`
	// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Other peers are keyed by their own address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	UnsubscribeLimit  int           `mapstructure:"unsubscribe_limit"`
	UnsubscribeWindow time.Duration `mapstructure:"unsubscribe_window"`
}

// EmailConfig holds email gateway configuration
type EmailConfig struct {
	// Provider is the gateway to use: "resend", "gmail" or "log"
	Provider string `mapstructure:"provider"`
	// AppName is the brand shown in emails and unsubscribe pages
	AppName string `mapstructure:"app_name"`
	// FromAddress is the "From" email address
	FromAddress string `mapstructure:"from_address"`
	// FromName is the display name for the sender
	FromName string            `mapstructure:"from_name"`
	Resend   ResendEmailConfig `mapstructure:"resend"`
	Gmail    GmailEmailConfig  `mapstructure:"gmail"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

// ResendEmailConfig holds the HTTP send API configuration
type ResendEmailConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
}

// UnsubscribeConfig holds the signed unsubscribe link settings
type UnsubscribeConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// PublicBaseURL is where /unsubscribe is reachable, e.g. https://example.com
	PublicBaseURL string `mapstructure:"public_base_url"`
	// Mailto is the fallback address for the List-Unsubscribe header
	Mailto string `mapstructure:"mailto"`
}

// SequenceConfig holds drip campaign settings
type SequenceConfig struct {
	// InitialDelay is added to the opt-in time for the first send
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// Cadence maps "just sent stage k" to the wait before the next send.
	// Stages past the end reuse the last entry.
	Cadence []time.Duration `mapstructure:"cadence"`
	// BatchLimit is the default number of contacts per run
	BatchLimit int `mapstructure:"batch_limit"`
	// DispatchInterval is the minimum spacing between gateway calls
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	// CTABaseURL prefixes the call-to-action path of every template
	CTABaseURL string `mapstructure:"cta_base_url"`
	// RunLockTTL bounds how long a crashed run can hold the batch lock
	RunLockTTL time.Duration `mapstructure:"run_lock_ttl"`
	// ScheduleInterval runs batches from the server on a ticker; 0 disables
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dripline")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("DRIPLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the sequencer cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Unsubscribe.Secret == "" {
		errs = append(errs, errors.New("unsubscribe.secret is required"))
	}
	if c.Unsubscribe.PublicBaseURL == "" {
		errs = append(errs, errors.New("unsubscribe.public_base_url is required"))
	}
	if len(c.Sequence.Cadence) == 0 {
		errs = append(errs, errors.New("sequence.cadence must have at least one interval"))
	}
	for i, d := range c.Sequence.Cadence {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("sequence.cadence[%d] must be positive", i))
		}
	}
	if c.Sequence.BatchLimit <= 0 {
		errs = append(errs, errors.New("sequence.batch_limit must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "dripline")
	v.SetDefault("database.user", "dripline")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.registered_subject", "contacts.registered")
	v.SetDefault("nats.stream", "CONTACTS")
	v.SetDefault("nats.durable", "dripline-registrations")
	v.SetDefault("nats.retry_delay", "10s")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.unsubscribe_limit", 30)
	v.SetDefault("security.rate_limiting.unsubscribe_window", "1m")
	v.SetDefault("security.cron_secret", "")
	v.SetDefault("security.trusted_proxies", []string{"127.0.0.1/8", "::1/128"})

	// Email defaults
	v.SetDefault("email.provider", "resend")
	v.SetDefault("email.app_name", "Dripline")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.from_name", "Dripline")
	v.SetDefault("email.resend.api_key", "")
	v.SetDefault("email.resend.base_url", "https://api.resend.com")
	v.SetDefault("email.gmail.credentials_json", "")
	v.SetDefault("email.gmail.client_id", "")
	v.SetDefault("email.gmail.client_secret", "")
	v.SetDefault("email.gmail.refresh_token", "")
	v.SetDefault("email.timeout", "10s")

	// Unsubscribe defaults
	v.SetDefault("unsubscribe.secret", "")
	v.SetDefault("unsubscribe.issuer", "dripline")
	v.SetDefault("unsubscribe.audience", "dripline:unsubscribe")
	v.SetDefault("unsubscribe.token_ttl", "720h")
	v.SetDefault("unsubscribe.public_base_url", "http://localhost:8080")
	v.SetDefault("unsubscribe.mailto", "unsubscribe@localhost")

	// Sequence defaults
	v.SetDefault("sequence.initial_delay", "5m")
	v.SetDefault("sequence.cadence", []string{"72h"})
	v.SetDefault("sequence.batch_limit", 50)
	v.SetDefault("sequence.dispatch_interval", "600ms")
	v.SetDefault("sequence.cta_base_url", "http://localhost:3000")
	v.SetDefault("sequence.run_lock_ttl", "15m")
	v.SetDefault("sequence.schedule_interval", "0s")
}
