package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Stripe    StripeConfig    `koanf:"stripe"`
	Billing   BillingConfig   `koanf:"billing"`
	Queue     QueueConfig     `koanf:"queue"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Otel      OtelConfig      `koanf:"otel"`
	Sentry    SentryConfig    `koanf:"sentry"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	URL         string `koanf:"url"`
}

type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	BodyLimit      int           `koanf:"body_limit"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type DatabaseConfig struct {
	Driver       string        `koanf:"driver"`
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	User         string        `koanf:"user"`
	Password     string        `koanf:"password"`
	Name         string        `koanf:"name"`
	SSLMode      string        `koanf:"sslmode"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate  bool          `koanf:"auto_migrate"`
}

type CacheConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type StripeConfig struct {
	SecretKey     string `koanf:"secret_key"`
	WebhookSecret string `koanf:"webhook_secret"`
}

type BillingConfig struct {
	CatalogSyncInterval   time.Duration `koanf:"catalog_sync_interval"`
	TokenGrantPeriod      time.Duration `koanf:"token_grant_period"`
	PriceRetryCount       uint64        `koanf:"price_retry_count"`
	PriceRetryDelay       time.Duration `koanf:"price_retry_delay"`
	SubscriptionSyncLimit int64         `koanf:"subscription_sync_limit"`
	SharedSyncWindow      bool          `koanf:"shared_sync_window"`
}

type QueueConfig struct {
	Enabled                bool          `koanf:"enabled"`
	Workers                int           `koanf:"workers"`
	CatalogRefreshInterval time.Duration `koanf:"catalog_refresh_interval"`
}

type RateLimitConfig struct {
	Requests      int           `koanf:"requests"`
	Window        time.Duration `koanf:"window"`
	ConsumePerMin int           `koanf:"consume_per_minute"`
	ConsumeBurst  int           `koanf:"consume_burst"`
	RedisFailOpen bool          `koanf:"redis_fail_open"`
}

type MetricsConfig struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

type SentryConfig struct {
	DSN              string  `koanf:"dsn"`
	TracesSampleRate float64 `koanf:"traces_sample_rate"`
}

var (
	cfg *Config
	mu  sync.RWMutex
)

// Load builds the configuration from defaults, an optional YAML file and the
// process environment, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	loaded := &Config{}
	if err := k.Unmarshal("", loaded); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(loaded); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()
	return loaded, nil
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "MemberVault",
		"app.version":     "1.0.0",
		"app.environment": "prod",
		"app.url":         "http://localhost:4000",

		"server.host":            "localhost",
		"server.port":            4000,
		"server.body_limit":      4 * 1024 * 1024,
		"server.request_timeout": "15s",

		"database.driver":            "mysql",
		"database.host":              "127.0.0.1",
		"database.port":              3306,
		"database.sslmode":           "disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "1h",
		"database.auto_migrate":      true,

		"cache.host": "localhost",
		"cache.port": 6379,
		"cache.db":   0,

		"billing.catalog_sync_interval":   "5m",
		"billing.token_grant_period":      "720h",
		"billing.price_retry_count":       3,
		"billing.price_retry_delay":       "2s",
		"billing.subscription_sync_limit": 10,
		"billing.shared_sync_window":      false,

		"queue.enabled":                  true,
		"queue.workers":                  3,
		"queue.catalog_refresh_interval": "1h",

		"rate_limit.requests":           100,
		"rate_limit.window":             "1m",
		"rate_limit.consume_per_minute": 60,
		"rate_limit.consume_burst":      10,
		"rate_limit.redis_fail_open":    true,

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "membervault",

		"sentry.traces_sample_rate": 0.2,
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"APP_NAME":                      "app.name",
	"APP_ENV":                       "app.environment",
	"APP_URL":                       "app.url",
	"APP_HOST":                      "server.host",
	"APP_PORT":                      "server.port",
	"REQUEST_TIMEOUT":               "server.request_timeout",
	"DB_DRIVER":                     "database.driver",
	"DB_HOST":                       "database.host",
	"DB_PORT":                       "database.port",
	"DB_USER":                       "database.user",
	"DB_PASSWORD":                   "database.password",
	"DB_NAME":                       "database.name",
	"DB_SSLMODE":                    "database.sslmode",
	"DB_AUTO_MIGRATE":               "database.auto_migrate",
	"CACHE_HOST":                    "cache.host",
	"CACHE_PORT":                    "cache.port",
	"CACHE_PASSWORD":                "cache.password",
	"CACHE_DB":                      "cache.db",
	"STRIPE_SECRET_KEY":             "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":         "stripe.webhook_secret",
	"CATALOG_SYNC_INTERVAL":         "billing.catalog_sync_interval",
	"TOKEN_GRANT_PERIOD":            "billing.token_grant_period",
	"PRICE_RETRY_COUNT":             "billing.price_retry_count",
	"PRICE_RETRY_DELAY":             "billing.price_retry_delay",
	"SUBSCRIPTION_SYNC_LIMIT":       "billing.subscription_sync_limit",
	"SHARED_SYNC_WINDOW":            "billing.shared_sync_window",
	"QUEUE_ENABLED":                 "queue.enabled",
	"QUEUE_WORKERS":                 "queue.workers",
	"CATALOG_REFRESH_INTERVAL":      "queue.catalog_refresh_interval",
	"RATE_LIMIT_REQUESTS":           "rate_limit.requests",
	"RATE_LIMIT_WINDOW":             "rate_limit.window",
	"RATE_LIMIT_CONSUME_PER_MINUTE": "rate_limit.consume_per_minute",
	"RATE_LIMIT_CONSUME_BURST":      "rate_limit.consume_burst",
	"METRICS_USER":                  "metrics.user",
	"METRICS_PASSWORD":              "metrics.password",
	"OTEL_ENDPOINT":                 "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT":   "otel.endpoint",
	"OTEL_SERVICE_NAME":             "otel.service_name",
	"OTEL_ENABLED":                  "otel.enabled",
	"OTEL_INSECURE":                 "otel.insecure",
	"OTEL_SAMPLE_RATE":              "otel.sample_rate",
	"SENTRY_DSN":                    "sentry.dsn",
	"SENTRY_TRACES_SAMPLE_RATE":     "sentry.traces_sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or postgres, got %q", c.Database.Driver)
	}

	if c.App.URL != "" {
		if _, err := url.ParseRequestURI(c.App.URL); err != nil {
			return fmt.Errorf("APP_URL is invalid: %w", err)
		}
	}

	if c.Billing.CatalogSyncInterval <= 0 {
		return fmt.Errorf("billing.catalog_sync_interval must be positive")
	}

	if c.Billing.TokenGrantPeriod <= 0 {
		return fmt.Errorf("billing.token_grant_period must be positive")
	}

	if c.IsProduction() && c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.IsProduction() && c.Otel.Enabled && c.Otel.Insecure {
		return fmt.Errorf("OTEL_INSECURE must be false in production")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "dev"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (c *CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the driver specific connection string.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL returns the golang-migrate database URL.
func (d *DatabaseConfig) MigrateURL() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name, d.SSLMode)
	}
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?multiStatements=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// BillingService maps the billing section onto the service configuration.
func (c *Config) BillingService() billing.Config {
	return billing.Config{
		AppURL:                strings.TrimRight(c.App.URL, "/"),
		CatalogSyncInterval:   c.Billing.CatalogSyncInterval,
		TokenGrantPeriod:      c.Billing.TokenGrantPeriod,
		PriceRetryCount:       c.Billing.PriceRetryCount,
		PriceRetryDelay:       c.Billing.PriceRetryDelay,
		SubscriptionSyncLimit: c.Billing.SubscriptionSyncLimit,
	}
}
