package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies .env and
// DIGITBOT_* overrides. A missing file is not an error. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Deriv ──
	setStr(&cfg.Deriv.Endpoint, "DIGITBOT_DERIV_ENDPOINT")
	setInt(&cfg.Deriv.AppID, "DIGITBOT_DERIV_APP_ID")
	setDuration(&cfg.Deriv.HandshakeTimeout, "DIGITBOT_DERIV_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Deriv.PingInterval, "DIGITBOT_DERIV_PING_INTERVAL")
	setStr(&cfg.Deriv.Token, "DIGITBOT_DERIV_TOKEN")
	setStr(&cfg.Deriv.EncryptedTokenPath, "DIGITBOT_DERIV_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Deriv.TokenPassword, "DIGITBOT_DERIV_TOKEN_PASSWORD")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "DIGITBOT_TRADING_SYMBOL")
	setStr(&cfg.Trading.Currency, "DIGITBOT_TRADING_CURRENCY")
	setInt(&cfg.Trading.Duration, "DIGITBOT_TRADING_DURATION")
	setStr(&cfg.Trading.DurationUnit, "DIGITBOT_TRADING_DURATION_UNIT")
	setStr(&cfg.Trading.Basis, "DIGITBOT_TRADING_BASIS")
	setFloat64(&cfg.Trading.DefaultStake, "DIGITBOT_TRADING_DEFAULT_STAKE")
	setStr(&cfg.Trading.Estimator, "DIGITBOT_TRADING_ESTIMATOR")
	setFloat64(&cfg.Trading.Sim.StartingBalance, "DIGITBOT_TRADING_SIM_STARTING_BALANCE")
	setFloat64(&cfg.Trading.Sim.PayoutRatio, "DIGITBOT_TRADING_SIM_PAYOUT_RATIO")
	setFloat64(&cfg.Trading.Sim.WinProbability, "DIGITBOT_TRADING_SIM_WIN_PROBABILITY")
	setInt64(&cfg.Trading.Sim.Seed, "DIGITBOT_TRADING_SIM_SEED")

	// ── Sessions ──
	setInt(&cfg.Sessions.MaxSessions, "DIGITBOT_SESSIONS_MAX_SESSIONS")
	setDuration(&cfg.Sessions.ConnectTimeout, "DIGITBOT_SESSIONS_CONNECT_TIMEOUT")
	setDuration(&cfg.Sessions.CallTimeout, "DIGITBOT_SESSIONS_CALL_TIMEOUT")
	setDuration(&cfg.Sessions.TradeLockTTL, "DIGITBOT_SESSIONS_TRADE_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "DIGITBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DIGITBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DIGITBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DIGITBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.ShutdownTimeout, "DIGITBOT_SERVER_SHUTDOWN_TIMEOUT")
	// Hosting platforms hand the listen port over in PORT.
	setInt(&cfg.Server.Port, "PORT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DIGITBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DIGITBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DIGITBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DIGITBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DIGITBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DIGITBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DIGITBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DIGITBOT_REDIS_KEY_PREFIX")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "DIGITBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "DIGITBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "DIGITBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "DIGITBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "DIGITBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "DIGITBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "DIGITBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "DIGITBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "DIGITBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "DIGITBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "DIGITBOT_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DIGITBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DIGITBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DIGITBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DIGITBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DIGITBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DIGITBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DIGITBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DIGITBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DIGITBOT_S3_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DIGITBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DIGITBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DIGITBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DIGITBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DIGITBOT_MODE")
	setStr(&cfg.LogLevel, "DIGITBOT_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
