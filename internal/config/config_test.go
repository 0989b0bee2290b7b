package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "R_100", cfg.Trading.Symbol)
	assert.Equal(t, 120541, cfg.Deriv.AppID)
	assert.Equal(t, 10.0, cfg.Trading.DefaultStake)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Trading, cfg.Trading)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "simulated"

[trading]
symbol = "R_50"

[trading.sim]
seed = 42

[sessions]
call_timeout = "3s"

[server]
port = 8080
`), 0o600))

	t.Setenv("DIGITBOT_TRADING_DEFAULT_STAKE", "2.5")
	t.Setenv("DIGITBOT_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PORT", "9090")
	t.Setenv("DIGITBOT_DERIV_PING_INTERVAL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "simulated", cfg.Mode)
	assert.Equal(t, "R_50", cfg.Trading.Symbol)
	assert.Equal(t, int64(42), cfg.Trading.Sim.Seed)
	assert.Equal(t, 3*time.Second, cfg.Sessions.CallTimeout.Duration)
	assert.Equal(t, 2.5, cfg.Trading.DefaultStake)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Sessions.ConnectTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Deriv.PingInterval.Duration)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"
	cfg.Server.Port = 0
	cfg.Deriv.EncryptedTokenPath = "/etc/digitbot/token.json"
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "paper"`)
	assert.Contains(t, msg, "server: port")
	assert.Contains(t, msg, "token_password")
	assert.Contains(t, msg, "telegram_chat_id")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Deriv.Token = "a1-secret"
	cfg.Supabase.Password = "pw"
	cfg.Server.APIKey = "k"

	r := RedactedConfig(&cfg)
	assert.Equal(t, "***", r.Deriv.Token)
	assert.Equal(t, "***", r.Supabase.Password)
	assert.Equal(t, "***", r.Server.APIKey)
	assert.Empty(t, r.Notify.TelegramToken)
	assert.Equal(t, "a1-secret", cfg.Deriv.Token)

	r.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "*", cfg.Server.CORSOrigins[0])
}
