package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configureToken    string
	configurePrinter  string
	configureForce    bool
	configureRedisURL string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a configuration file",
	Long: `Write a configuration file with the given bot token and printer endpoint.
Values not given on the command line come from PRINTDESK_* variables or the defaults.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "token", "", "Telegram bot token")
	configureCmd.Flags().StringVar(&configurePrinter, "printer", "", "printer endpoint (ipp://host/path, ipps://, http://, https:// or host)")
	configureCmd.Flags().StringVar(&configureRedisURL, "redis", "", "redis address; switches the session store to redis")
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "save even if the configuration does not validate")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if configureToken != "" {
		cfg.Telegram.BotToken = configureToken
	}
	if configurePrinter != "" {
		cfg.Printer.Endpoint = configurePrinter
	}
	if configureRedisURL != "" {
		cfg.Store.Backend = "redis"
		cfg.Store.Redis.Addr = configureRedisURL
	}

	if err := cfg.Validate(); err != nil && !configureForce {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	cmd.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	cmd.Println("You can now start printdesk with: printdesk start")

	return nil
}
