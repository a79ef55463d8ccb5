package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ProcessConfig configures process management behavior.
type ProcessConfig struct {
	GracefulTimeout time.Duration // Time to wait for graceful shutdown (default: 10s)
	PollInterval    time.Duration // Polling interval for process state (default: 25ms)
}

// StartBackgroundProcess starts a detached background process.
// The process will continue running after the parent exits.
func StartBackgroundProcess(executable string, args []string, env []string) (*os.Process, error) {
	cmd := exec.Command(executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if env != nil {
		cmd.Env = env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	return cmd.Process, nil
}

// StopProcess attempts graceful shutdown, then force kills if needed.
// gracefulStop should request the process to stop (e.g., via IPC).
// isRunning should check if the process is still running.
func StopProcess(ctx context.Context, pid int, cfg ProcessConfig, gracefulStop func() error, isRunning func() bool) error {
	def := DaemonStopPoll()
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = def.Timeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.Interval
	}

	if gracefulStop != nil {
		// failure here falls through to the kill below
		_ = gracefulStop()
	}

	err := PollUntil(ctx, PollConfig{Timeout: cfg.GracefulTimeout, Interval: cfg.PollInterval}, func() bool {
		return !isRunning()
	})
	if err == nil {
		return nil
	}

	if pid <= 0 {
		return fmt.Errorf("process did not stop and its PID is unknown")
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGKILL)
	}

	err = PollUntil(ctx, PollConfig{Timeout: time.Second, Interval: cfg.PollInterval}, func() bool {
		return !isRunning()
	})
	if err != nil {
		return fmt.Errorf("failed to stop process (PID %d): %w", pid, err)
	}
	return nil
}

// GetExecutablePath returns the path to the current executable.
func GetExecutablePath() (string, error) {
	return os.Executable()
}
