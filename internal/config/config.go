package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main printdesk configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Printer
	Printer PrinterConfig `json:"printer" mapstructure:"printer"`

	// Uploads
	Uploads UploadsConfig `json:"uploads" mapstructure:"uploads"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Conversation behaviour
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation"`

	// Session store backend
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Job journal
	Journal JournalConfig `json:"journal" mapstructure:"journal"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken         string        `json:"bot_token" mapstructure:"bot_token"`
	PollTimeout      int           `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
	ReconnectInitial time.Duration `json:"reconnect_initial" mapstructure:"reconnect_initial"`
	ReconnectMax     time.Duration `json:"reconnect_max" mapstructure:"reconnect_max"`
	SendRate         float64       `json:"send_rate" mapstructure:"send_rate"` // messages per second
	SendBurst        int           `json:"send_burst" mapstructure:"send_burst"`
	MaxMediaBytes    int64         `json:"max_media_bytes" mapstructure:"max_media_bytes"`
}

// PrinterConfig holds the printer endpoint and job attributes
type PrinterConfig struct {
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	RequestingUser string `json:"requesting_user" mapstructure:"requesting_user"`
	Username       string `json:"username" mapstructure:"username"`
	Password       string `json:"password" mapstructure:"password"`
	RetryAttempts  int    `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMs   int    `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// RetryDelay returns the configured delay between print attempts
func (p PrinterConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// UploadsConfig holds the upload directory settings
type UploadsConfig struct {
	Dir          string        `json:"dir" mapstructure:"dir"`
	OrphanMaxAge time.Duration `json:"orphan_max_age" mapstructure:"orphan_max_age"`
}

// SessionsConfig holds idle eviction settings
type SessionsConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"` // 0 disables eviction
	SweepInterval string        `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// ConversationConfig tunes the conversation flow
type ConversationConfig struct {
	Greetings        []string `json:"greetings" mapstructure:"greetings"`
	ReleaseOnRestart bool     `json:"release_on_restart" mapstructure:"release_on_restart"`
	MaxCopies        int      `json:"max_copies" mapstructure:"max_copies"` // 0 means unbounded
}

// StoreConfig selects the session store backend
type StoreConfig struct {
	Backend string      `json:"backend" mapstructure:"backend"` // memory, redis
	Redis   RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

// JournalConfig holds job journal settings
type JournalConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MetricsConfig holds the prometheus listener address
type MetricsConfig struct {
	Listen string `json:"listen" mapstructure:"listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout:      30,
			ReconnectInitial: time.Second,
			ReconnectMax:     time.Minute,
			SendRate:         20,
			SendBurst:        5,
			MaxMediaBytes:    20 << 20,
		},
		Printer: PrinterConfig{
			RequestingUser: "printdesk",
			RetryAttempts:  1,
			RetryDelayMs:   2000,
		},
		Uploads: UploadsConfig{
			OrphanMaxAge: 24 * time.Hour,
		},
		Sessions: SessionsConfig{
			IdleTimeout:   0,
			SweepInterval: "@every 1m",
		},
		Conversation: ConversationConfig{
			Greetings:        []string{"oi", "olá", "iniciar"},
			ReleaseOnRestart: true,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "printdesk:session:",
			},
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateTelegramToken(c.Telegram.BotToken); err != nil {
		return err
	}

	if c.Telegram.ReconnectInitial <= 0 {
		return fmt.Errorf("telegram reconnect_initial must be positive")
	}
	if c.Telegram.ReconnectMax < c.Telegram.ReconnectInitial {
		return fmt.Errorf("telegram reconnect_max must not be lower than reconnect_initial")
	}
	if c.Telegram.SendRate <= 0 || c.Telegram.SendBurst <= 0 {
		return fmt.Errorf("telegram send_rate and send_burst must be positive")
	}

	// An empty endpoint is allowed; jobs fail with a configuration error.
	if c.Printer.Endpoint != "" {
		if err := v.ValidatePrinterEndpoint(c.Printer.Endpoint); err != nil {
			return err
		}
	}
	if c.Printer.RetryAttempts < 1 {
		return fmt.Errorf("printer retry_attempts must be at least 1")
	}

	if c.Uploads.Dir == "" {
		return fmt.Errorf("uploads dir is required")
	}

	if c.Sessions.IdleTimeout < 0 {
		return fmt.Errorf("sessions idle_timeout cannot be negative")
	}
	if c.Sessions.IdleTimeout > 0 {
		if err := v.ValidateSchedule(c.Sessions.SweepInterval); err != nil {
			return err
		}
	}

	if len(c.Conversation.Greetings) == 0 {
		return fmt.Errorf("at least one greeting must be configured")
	}
	if c.Conversation.MaxCopies < 0 {
		return fmt.Errorf("conversation max_copies cannot be negative")
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when store backend is redis")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be: memory, redis)", c.Store.Backend)
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}
