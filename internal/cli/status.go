package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/printdesk/internal/daemon"
	"github.com/harun/printdesk/pkg/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the printdesk daemon is running, the printer endpoint and job counts.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFile(cfg.DataDir)
	if !isRunning(pidFile) {
		cmd.Println("Status: stopped")
	} else {
		pid, err := daemon.ReadPID(pidFile)
		if err != nil {
			return fmt.Errorf("failed to read PID file: %w", err)
		}

		cmd.Println("Status: running")
		cmd.Printf("PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			cmd.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}

	endpoint := cfg.Printer.Endpoint
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	cmd.Printf("Printer: %s\n", endpoint)

	if cfg.Journal.Enabled {
		if _, err := os.Stat(cfg.Journal.Path); err == nil {
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("failed to open job journal: %w", err)
			}
			defer j.Close()

			counts, err := j.Counts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to read job journal: %w", err)
			}
			cmd.Printf("Jobs: %d printed, %d failed\n", counts[journal.OutcomePrinted], counts[journal.OutcomeFailed])
		}
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
