package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/printdesk/internal/daemon"
	"github.com/harun/printdesk/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the printdesk daemon service",
	Long: `Start the printdesk daemon in the foreground.
The daemon polls Telegram for messages and prints the documents it receives
until it gets SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := daemon.PIDFile(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.FromConfig(cfg.Logging,
		cfg.Telegram.BotToken, cfg.Printer.Password, cfg.Store.Redis.Password))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithLoader(loader), daemon.WithVersion(version))
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	return d.Wait()
}

func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
