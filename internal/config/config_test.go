package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = testToken
	cfg.Uploads.Dir = "/tmp/printdesk-uploads"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 30, cfg.Telegram.PollTimeout)
	assert.Equal(t, time.Second, cfg.Telegram.ReconnectInitial)
	assert.Equal(t, time.Minute, cfg.Telegram.ReconnectMax)
	assert.Equal(t, "printdesk", cfg.Printer.RequestingUser)
	assert.Equal(t, 1, cfg.Printer.RetryAttempts)
	assert.Empty(t, cfg.Printer.Endpoint)
	assert.Equal(t, time.Duration(0), cfg.Sessions.IdleTimeout)
	assert.Equal(t, []string{"oi", "olá", "iniciar"}, cfg.Conversation.Greetings)
	assert.True(t, cfg.Conversation.ReleaseOnRestart)
	assert.Equal(t, 0, cfg.Conversation.MaxCopies)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing bot token", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.BotToken = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bot token")
	})

	t.Run("empty printer endpoint is allowed", func(t *testing.T) {
		cfg := validConfig()
		cfg.Printer.Endpoint = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad printer scheme", func(t *testing.T) {
		cfg := validConfig()
		cfg.Printer.Endpoint = "ftp://printer.local/print"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme")
	})

	t.Run("reconnect max below initial", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.ReconnectMax = time.Millisecond

		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid sweep schedule with eviction enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.IdleTimeout = 10 * time.Minute
		cfg.Sessions.SweepInterval = "not a schedule"

		assert.Error(t, cfg.Validate())
	})

	t.Run("sweep schedule ignored when eviction disabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.SweepInterval = "not a schedule"

		assert.NoError(t, cfg.Validate())
	})

	t.Run("no greetings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Conversation.Greetings = nil

		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown store backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Store.Backend = "etcd"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store backend")
	})

	t.Run("redis without addr", func(t *testing.T) {
		cfg := validConfig()
		cfg.Store.Backend = "redis"
		cfg.Store.Redis.Addr = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"

		assert.Error(t, cfg.Validate())
	})
}

func TestConfigString(t *testing.T) {
	s := validConfig().String()
	assert.Contains(t, s, `"telegram"`)
	assert.Contains(t, s, `"printer"`)
}

func TestPrinterRetryDelay(t *testing.T) {
	p := PrinterConfig{RetryDelayMs: 1500}
	assert.Equal(t, 1500*time.Millisecond, p.RetryDelay())
}
