package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harun/printdesk/internal/config"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	envFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "printdesk",
	Short: "printdesk - print documents sent over Telegram",
	Long: `printdesk is a chat bot that collects a document and print preferences
from a Telegram conversation and submits the job to a network printer over IPP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.printdesk/printdesk.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with PRINTDESK_* variables (default is ./.env when present)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// loadConfig reads the env file, then the config file with environment overrides
func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, nil, err
	}

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}

	return loader, cfg, nil
}

// loadEnvFile loads path, or ./.env when path is empty and the file exists.
// Variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
