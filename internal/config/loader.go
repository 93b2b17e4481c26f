package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "PRINTDESK"
	configDirName  = ".printdesk"
	configFileName = "printdesk.json"
)

// envKeys are the settings that can be supplied through PRINTDESK_* variables
// even when no config file exists.
var envKeys = []string{
	"telegram.bot_token",
	"printer.endpoint",
	"printer.requesting_user",
	"printer.username",
	"printer.password",
	"uploads.dir",
	"sessions.idle_timeout",
	"store.backend",
	"store.redis.addr",
	"store.redis.password",
	"store.redis.db",
	"journal.path",
	"metrics.listen",
	"logging.level",
	"data_dir",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// newViper prepares a viper instance bound to the config file and environment
func (l *Loader) newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := l.newViper(configPath)

	// A missing file means defaults plus environment
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDerivedPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDerivedPaths fills paths that default to locations under DataDir
func applyDerivedPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}

	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = filepath.Join(cfg.DataDir, "uploads")
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.DataDir, "journal.db")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "printdesk.log")
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("telegram", cfg.Telegram)
	v.Set("printer", cfg.Printer)
	v.Set("uploads", cfg.Uploads)
	v.Set("sessions", cfg.Sessions)
	v.Set("conversation", cfg.Conversation)
	v.Set("store", cfg.Store)
	v.Set("journal", cfg.Journal)
	v.Set("metrics", cfg.Metrics)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
