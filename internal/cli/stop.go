package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/printdesk/internal/daemon"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the printdesk daemon service",
	Long: `Stop the printdesk daemon service gracefully.
Sends SIGTERM to the daemon and waits for it to shut down, then SIGKILL after the timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for daemon to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	return stopDaemon(cmd, daemon.PIDFile(cfg.DataDir), time.Duration(stopTimeout)*time.Second)
}

func stopDaemon(cmd *cobra.Command, pidFile string, timeout time.Duration) error {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessAlive(pid) {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			cmd.Println("Daemon stopped successfully")
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	cmd.Println("Timeout reached, sending SIGKILL...")

	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	_ = os.Remove(pidFile)
	cmd.Println("Daemon killed")
	return nil
}
