package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidatePrinterEndpoint accepts ipp, ipps, http and https URLs, or a bare
// host[:port] which is later expanded to an IPP URL.
func (v *Validator) ValidatePrinterEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("printer endpoint cannot be empty")
	}

	if !strings.Contains(endpoint, "://") {
		if strings.ContainsAny(endpoint, " /?#") {
			return fmt.Errorf("invalid printer endpoint: %s", endpoint)
		}
		return nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid printer endpoint: %w", err)
	}

	switch u.Scheme {
	case "ipp", "ipps", "http", "https":
	default:
		return fmt.Errorf("unsupported printer endpoint scheme: %s (must be one of: ipp, ipps, http, https)", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("printer endpoint has no host: %s", endpoint)
	}

	return nil
}

// ValidateSchedule validates a cron expression or descriptor such as "@every 1m"
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and reports every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
		errors = append(errors, err)
	}
	if cfg.Telegram.MaxMediaBytes < 0 {
		errors = append(errors, fmt.Errorf("telegram max_media_bytes must be >= 0"))
	}

	if cfg.Printer.Endpoint != "" {
		if err := v.ValidatePrinterEndpoint(cfg.Printer.Endpoint); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Printer.RetryDelayMs < 0 {
		errors = append(errors, fmt.Errorf("printer retry_delay_ms must be >= 0"))
	}

	if cfg.Sessions.IdleTimeout > 0 {
		if err := v.ValidateSchedule(cfg.Sessions.SweepInterval); err != nil {
			errors = append(errors, err)
		}
	}

	for i, g := range cfg.Conversation.Greetings {
		if strings.TrimSpace(g) == "" {
			errors = append(errors, fmt.Errorf("greeting %d: cannot be empty", i))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
