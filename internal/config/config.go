package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
// Every field has a sensible default. DATABASE_URL and REDIS_URL are optional:
// without them the service keeps state in memory.
type Config struct {
	// Server
	HTTPPort        string        `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`

	// Storage
	DatabaseURL string `mapstructure:"database_url"`
	DBMaxConns  int32  `mapstructure:"db_max_conns"`
	DBMinConns  int32  `mapstructure:"db_min_conns"`
	RedisURL    string `mapstructure:"redis_url"`

	// Auth: static bearer tokens, checked alongside the api_tokens table.
	APITokens []string `mapstructure:"api_tokens"`

	// Per-client-IP API limit
	APIRateLimit float64 `mapstructure:"api_rate_limit"`
	APIRateBurst int     `mapstructure:"api_rate_burst"`

	// Dispatch
	Workers        int           `mapstructure:"workers"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	AgingThreshold time.Duration `mapstructure:"aging_threshold"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	Timezone       string        `mapstructure:"timezone"`

	// Reaper: reconciles the store with the queue after crashes.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`

	// Delivery gateway
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
	ChannelRateLimit int           `mapstructure:"channel_rate_limit"`
	SandboxChannels  bool          `mapstructure:"sandbox_channels"`

	SMSGatewayURL string `mapstructure:"sms_gateway_url"`
	SMSAPIKey     string `mapstructure:"sms_api_key"`

	PostmarkServerToken  string `mapstructure:"postmark_server_token"`
	PostmarkAccountToken string `mapstructure:"postmark_account_token"`
	EmailFrom            string `mapstructure:"email_from"`
	EmailSubject         string `mapstructure:"email_subject"`
}

var defaults = map[string]any{
	"http_port":        "8080",
	"read_timeout":     "5s",
	"write_timeout":    "40s",
	"shutdown_timeout": "30s",
	"log_level":        "info",

	"database_url": "",
	"db_max_conns": 25,
	"db_min_conns": 5,
	"redis_url":    "",

	"api_tokens":     []string{},
	"api_rate_limit": 50,
	"api_rate_burst": 100,

	"workers":          10,
	"queue_capacity":   10000,
	"aging_threshold":  "30s",
	"max_attempts":     5,
	"retry_base_delay": "2s",
	"retry_max_delay":  "5m",
	"retry_interval":   "1s",
	"max_wait":         "30s",
	"timezone":         "UTC",

	"reaper_interval": "1m",
	"stale_threshold": "5m",

	"delivery_timeout":   "10s",
	"channel_rate_limit": 100,
	"sandbox_channels":   false,

	"sms_gateway_url": "",
	"sms_api_key":     "",

	"postmark_server_token":  "",
	"postmark_account_token": "",
	"email_from":             "",
	"email_subject":          "Notification",
}

// Load reads configuration from an optional config.yaml, an optional .env file
// and environment variables. Environment variables use the GNS_ prefix:
// GNS_HTTP_PORT overrides http_port.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	_ = godotenv.Load()

	v.SetEnvPrefix("GNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Tokens arrive as a YAML list or a comma-separated env var.
	cfg.APITokens = splitList(strings.Join(cfg.APITokens, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base (%s) <= max (%s)", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.StaleThreshold <= c.DeliveryTimeout {
		return fmt.Errorf("stale_threshold (%s) must exceed delivery_timeout (%s)", c.StaleThreshold, c.DeliveryTimeout)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the time zone used for task quiet hours and cron schedules.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
