package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ntvfs/internal/daemon"
	"ntvfs/internal/util"
)

var notifydCmd = &cobra.Command{
	Use:   "notifyd",
	Short: "Notification daemon management commands",
	Long:  `Commands for controlling the change-notification daemon that watches directories for SMB clients.`,
}

var notifydStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long:  `Starts the notification daemon in the background.`,
	Args:  cobra.NoArgs,
	RunE:  runNotifydStart,
}

var notifydStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  runNotifydStop,
}

var notifydStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runNotifydStatus,
}

var notifydConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.ntvfs/settings.yaml. A running daemon is asked to
reload them.

Examples:
  # Enable trace logging
  ntvfs notifyd config --logging trace

  # Report changes in batches of 250ms
  ntvfs notifyd config --coalesce-ms 250

  # Show current configuration
  ntvfs notifyd config`,
	Args: cobra.NoArgs,
	RunE: runNotifydConfig,
}

var notifydForeground bool
var notifydRestart bool
var configLogLevel string
var configCoalesceMs int

func init() {
	notifydStartCmd.Flags().BoolVarP(&notifydForeground, "foreground", "f", false, "Run in foreground")
	notifydStartCmd.Flags().BoolVar(&notifydRestart, "restart", false, "Restart daemon if already running")
	notifydConfigCmd.Flags().StringVar(&configLogLevel, "logging", "", "Log level: trace, debug, info, warn, none")
	notifydConfigCmd.Flags().IntVar(&configCoalesceMs, "coalesce-ms", 0, "Change batching window in milliseconds")
	notifydCmd.AddCommand(notifydStartCmd)
	notifydCmd.AddCommand(notifydStopCmd)
	notifydCmd.AddCommand(notifydStatusCmd)
	notifydCmd.AddCommand(notifydConfigCmd)
	rootCmd.AddCommand(notifydCmd)
}

func runNotifydStart(cmd *cobra.Command, args []string) error {
	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		if !notifydRestart {
			fmt.Printf("Daemon already running (PID %d)\n", pid)
			fmt.Println("Use --restart to restart the daemon")
			return nil
		}
		fmt.Printf("Daemon already running (PID %d), restarting...\n", pid)
		if err := stopDaemonAndWait(); err != nil {
			return fmt.Errorf("failed to stop daemon for restart: %w", err)
		}
	}

	if notifydForeground {
		return daemon.New().Run()
	}

	if err := StartDaemonIfNeeded(false); err != nil {
		return err
	}
	pid, _ := daemon.GetPID()
	fmt.Printf("Daemon started (PID %d)\n", pid)
	return nil
}

func runNotifydStop(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon not running")
		return nil
	}
	if err := stopDaemonAndWait(); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

// stopDaemonAndWait asks the daemon to stop and kills it if it does not
// exit in time.
func stopDaemonAndWait() error {
	pid, _ := daemon.GetPID()

	gracefulStop := func() error {
		client, err := daemon.Connect()
		if err != nil {
			return err
		}
		defer client.Close()
		resp, err := client.Stop()
		if err != nil {
			return fmt.Errorf("stop request failed: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		return nil
	}

	poll := util.DaemonStopPoll()
	return util.StopProcess(context.Background(), pid, util.ProcessConfig{
		GracefulTimeout: poll.Timeout,
		PollInterval:    poll.Interval,
	}, gracefulStop, daemon.IsDaemonRunning)
}

func runNotifydStatus(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon: not running")
	} else {
		client, err := daemon.Connect()
		if err != nil {
			return err
		}
		resp, err := client.Status()
		client.Close()
		if err != nil {
			return err
		}
		fmt.Printf("Daemon: running (PID %d)\n", resp.PID)
		fmt.Printf("Outstanding watches: %d\n", resp.Watches)
	}

	fmt.Printf("Log level: %s\n", displayLevel(settings.LogLevel))
	fmt.Printf("Coalesce window: %s\n", settings.CoalesceInterval())
	return nil
}

func runNotifydConfig(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if configLogLevel == "" && configCoalesceMs == 0 {
		fmt.Println("Current daemon configuration:")
		fmt.Printf("  Log level: %s\n", displayLevel(settings.LogLevel))
		fmt.Printf("  Coalesce window: %s\n", settings.CoalesceInterval())
		fmt.Printf("  Ignored patterns: %v\n", settings.NotifyIgnore)
		return nil
	}

	if configLogLevel != "" {
		level, err := normalizeLevel(configLogLevel)
		if err != nil {
			return err
		}
		settings.LogLevel = level
	}
	if configCoalesceMs < 0 {
		return fmt.Errorf("invalid --coalesce-ms %d: must be positive", configCoalesceMs)
	}
	if configCoalesceMs > 0 {
		settings.NotifyCoalesceMs = configCoalesceMs
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Printf("Log level: %s\n", displayLevel(settings.LogLevel))
	fmt.Printf("Coalesce window: %s\n", settings.CoalesceInterval())

	if daemon.IsDaemonRunning() {
		client, err := daemon.Connect()
		if err == nil {
			if err := client.ReloadConfig(); err != nil {
				fmt.Printf("Note: Failed to notify daemon: %v\n", err)
				fmt.Println("Restart the daemon for the new settings to take effect:")
				fmt.Println("  ntvfs notifyd start --restart")
			} else {
				fmt.Println("Daemon notified to reload configuration")
			}
			client.Close()
		}
	}
	return nil
}

// normalizeLevel validates a --logging value; "none" and "off" map to ""
func normalizeLevel(value string) (string, error) {
	switch value {
	case "trace", "debug", "info", "warn":
		return value, nil
	case "none", "off", "":
		return "", nil
	}
	return "", fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, none", value)
}

func displayLevel(level string) string {
	if level == "" {
		return "none"
	}
	return level
}
