package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PIDFileName is the pid file written under the data directory
const PIDFileName = "printdesk.pid"

// LifecycleManager manages the daemon PID file
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFile(d.config.DataDir),
	}
}

// PIDFile returns the pid file path for a data directory
func PIDFile(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// Start writes the PID file, refusing to start over a live daemon
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := ReadPID(l.pidFile); err == nil && pid != os.Getpid() && ProcessAlive(pid) {
		return fmt.Errorf("daemon already running with pid %d", pid)
	}

	if err := l.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")

	return nil
}

func (l *LifecycleManager) writePIDFile() error {
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// GetPID returns the daemon PID from the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return ReadPID(l.pidFile)
}

// IsRunning checks if the process in the PID file is alive
func (l *LifecycleManager) IsRunning() bool {
	pid, err := l.GetPID()
	if err != nil {
		return false
	}
	return ProcessAlive(pid)
}

// ReadPID reads a pid file
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}

	return pid, nil
}

// ProcessAlive reports whether a process with pid exists
func ProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds; signal 0 probes the process
	return process.Signal(syscall.Signal(0)) == nil
}
