package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/printdesk/internal/config"
)

// ServiceName tags every record written by the daemon
const ServiceName = "printdesk"

// Logger is the daemon's root zerolog logger plus the log file it owns
type Logger struct {
	logger   zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error; empty means info
	File      string // log file path
	Console   bool   // write to Output (stderr by default)
	Pretty    bool   // human readable console lines
	Redaction bool   // mask tokens and credentials

	// Secrets are literal values masked when Redaction is on, such as the
	// bot token or the printer password.
	Secrets []string

	// Output replaces stderr as the console sink when set.
	Output io.Writer
}

// FromConfig maps the logging section of the daemon config
func FromConfig(c config.LoggingConfig, secrets ...string) Config {
	return Config{
		Level:     c.Level,
		File:      c.File,
		Console:   c.Console,
		Pretty:    c.Pretty,
		Redaction: c.Redaction,
		Secrets:   secrets,
	}
}

// New creates the root logger and installs it as zerolog's global logger
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var writers []io.Writer

	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		writers = append(writers, out)
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		for _, secret := range cfg.Secrets {
			if len(secret) < 4 {
				continue
			}
			if err := redactor.AddPattern(regexp.QuoteMeta(secret)); err != nil {
				return nil, fmt.Errorf("failed to add redaction pattern: %w", err)
			}
		}
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Int("pid", os.Getpid()).
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		redactor: redactor,
	}, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the root zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig logs pretty lines to stderr with redaction on
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
