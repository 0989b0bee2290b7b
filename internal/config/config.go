// Package config defines the configuration of the digit trading server and
// its validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from an optional TOML file
// and are then overridden by DIGITBOT_* environment variables.
type Config struct {
	Deriv    DerivConfig    `toml:"deriv"`
	Trading  TradingConfig  `toml:"trading"`
	Sessions SessionsConfig `toml:"sessions"`
	Server   ServerConfig   `toml:"server"`
	Redis    RedisConfig    `toml:"redis"`
	Supabase SupabaseConfig `toml:"supabase"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DerivConfig holds the broker endpoint and the optional operator token.
type DerivConfig struct {
	Endpoint           string   `toml:"endpoint"`
	AppID              int      `toml:"app_id"`
	HandshakeTimeout   duration `toml:"handshake_timeout"`
	PingInterval       duration `toml:"ping_interval"`
	Token              string   `toml:"token"`
	EncryptedTokenPath string   `toml:"encrypted_token_path"`
	TokenPassword      string   `toml:"token_password"`
}

// TradingConfig holds contract terms and simulated-mode parameters.
type TradingConfig struct {
	Symbol       string    `toml:"symbol"`
	Currency     string    `toml:"currency"`
	Duration     int       `toml:"duration"`
	DurationUnit string    `toml:"duration_unit"`
	Basis        string    `toml:"basis"`
	DefaultStake float64   `toml:"default_stake"`
	Estimator    string    `toml:"estimator"`
	Sim          SimConfig `toml:"sim"`
}

// SimConfig configures the simulated executor. Seed 0 means time-seeded.
type SimConfig struct {
	StartingBalance float64 `toml:"starting_balance"`
	PayoutRatio     float64 `toml:"payout_ratio"`
	WinProbability  float64 `toml:"win_probability"`
	Seed            int64   `toml:"seed"`
}

// SessionsConfig bounds broker sessions. MaxSessions 0 means unlimited.
type SessionsConfig struct {
	MaxSessions    int      `toml:"max_sessions"`
	ConnectTimeout duration `toml:"connect_timeout"`
	CallTimeout    duration `toml:"call_timeout"`
	TradeLockTTL   duration `toml:"trade_lock_ttl"`
}

// ServerConfig holds HTTP server parameters. RateLimit is requests per
// minute per client and needs Redis; 0 disables it.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the session archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets TOML carry durations as strings like "15s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Deriv: DerivConfig{
			Endpoint:         "wss://ws.derivws.com/websockets/v3",
			AppID:            120541,
			HandshakeTimeout: duration{10 * time.Second},
			PingInterval:     duration{30 * time.Second},
		},
		Trading: TradingConfig{
			Symbol:       "R_100",
			Currency:     "USD",
			Duration:     5,
			DurationUnit: "t",
			Basis:        "stake",
			DefaultStake: 10,
			Estimator:    "random",
			Sim: SimConfig{
				StartingBalance: 1000,
				PayoutRatio:     0.8,
				WinProbability:  0.5,
			},
		},
		Sessions: SessionsConfig{
			MaxSessions:    100,
			ConnectTimeout: duration{15 * time.Second},
			CallTimeout:    duration{15 * time.Second},
			TradeLockTTL:   duration{30 * time.Second},
		},
		Server: ServerConfig{
			Port:            5000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "digitbot",
		},
		Supabase: SupabaseConfig{
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  5,
			RunMigrations: true,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
			Prefix: "sessions",
		},
		Notify: NotifyConfig{
			Events: []string{"session", "trade"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{"live": true, "simulated": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks c and returns every problem found as one error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, simulated)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Deriv.Endpoint == "" {
		errs = append(errs, "deriv: endpoint must not be empty")
	}
	if c.Deriv.AppID <= 0 {
		errs = append(errs, "deriv: app_id must be positive")
	}
	if c.Deriv.PingInterval.Duration < 0 {
		errs = append(errs, "deriv: ping_interval must be >= 0")
	}
	if c.Deriv.EncryptedTokenPath != "" && c.Deriv.TokenPassword == "" {
		errs = append(errs, "deriv: token_password is required when encrypted_token_path is set")
	}

	if c.Trading.Symbol == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if c.Trading.Duration <= 0 {
		errs = append(errs, "trading: duration must be > 0")
	}
	if c.Trading.DefaultStake <= 0 {
		errs = append(errs, "trading: default_stake must be > 0")
	}
	if c.Trading.Estimator == "" {
		errs = append(errs, "trading: estimator must not be empty")
	}
	if c.Mode == "simulated" {
		if c.Trading.Sim.StartingBalance <= 0 {
			errs = append(errs, "trading.sim: starting_balance must be > 0")
		}
		if c.Trading.Sim.PayoutRatio <= 0 {
			errs = append(errs, "trading.sim: payout_ratio must be > 0")
		}
		if p := c.Trading.Sim.WinProbability; p < 0 || p > 1 {
			errs = append(errs, "trading.sim: win_probability must be within [0,1]")
		}
	}

	if c.Sessions.MaxSessions < 0 {
		errs = append(errs, "sessions: max_sessions must be >= 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Supabase.Enabled {
		if c.Supabase.DSN == "" && c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
