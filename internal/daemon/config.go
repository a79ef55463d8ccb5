package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ntvfs/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses NTVFS_CONFIG_DIR env var if set, otherwise defaults to ~/.ntvfs.
// Computed on every call so tests can isolate themselves.
func getConfigDir() string {
	if dir := os.Getenv("NTVFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ntvfs")
}

// daemonName returns the fixed daemon name "notifyd".
func daemonName() string {
	return "notifyd"
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SocketPath returns the Unix socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".sock")
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".pid")
}

// LogPath returns the log file path.
// Uses NTVFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/notifyd.log.
func LogPath() string {
	if envPath := os.Getenv("NTVFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), daemonName()+".log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".lock")
}

// GlobalSettingsPath returns the settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if there is none.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// GlobalSettings holds the server and notification service settings
type GlobalSettings struct {
	LogLevel         string `yaml:"log_level"`          // trace, debug, info, warn, off (default: off)
	ShareName        string `yaml:"share_name"`         // SMB share name
	ListenAddr       string `yaml:"listen_addr"`        // SMB listen address
	Root             string `yaml:"root"`               // exported directory
	MetricsAddr      string `yaml:"metrics_addr"`       // prometheus listen address, empty = disabled
	NotifyCoalesceMs int    `yaml:"notify_coalesce_ms"` // change batching window
	LockRetryMs      int    `yaml:"lock_retry_ms"`      // blocking lock re-try interval
	CaseInsensitive  bool   `yaml:"case_insensitive"`   // match names ignoring case

	NotifyIgnore []string `yaml:"notify_ignore"` // gitignore-style patterns never reported
}

// ApplyDefaults fills zero-value fields from the embedded defaults.
func (s *GlobalSettings) ApplyDefaults() {
	def := loadDefaultGlobalSettings()
	if s.ShareName == "" {
		s.ShareName = def.ShareName
	}
	if s.ListenAddr == "" {
		s.ListenAddr = def.ListenAddr
	}
	if s.NotifyCoalesceMs <= 0 {
		s.NotifyCoalesceMs = def.NotifyCoalesceMs
	}
	if s.LockRetryMs <= 0 {
		s.LockRetryMs = def.LockRetryMs
	}
	if s.NotifyIgnore == nil {
		s.NotifyIgnore = def.NotifyIgnore
	}
}

// CoalesceInterval returns notify_coalesce_ms as a duration
func (s *GlobalSettings) CoalesceInterval() time.Duration {
	return time.Duration(s.NotifyCoalesceMs) * time.Millisecond
}

// LockRetryInterval returns lock_retry_ms as a duration
func (s *GlobalSettings) LockRetryInterval() time.Duration {
	return time.Duration(s.LockRetryMs) * time.Millisecond
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadGlobalSettings loads settings.yaml from the config dir.
// Always reads from file to get latest config. Falls back to embedded
// defaults if the file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultGlobalSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", GlobalSettingsPath(), err)
	}
	settings.ApplyDefaults()
	return &settings, nil
}

// SaveGlobalSettings writes settings.yaml to the config dir
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# ntvfs settings\n# See: ntvfs serve --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}

// ConfigureLogging points logrus at w with the given level (case
// insensitive). An empty level or "none"/"off" discards output.
func ConfigureLogging(level string, w io.Writer) {
	switch strings.ToLower(level) {
	case "", "none", "off":
		log.SetOutput(io.Discard)
		return
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	log.SetOutput(w)
}

// LoggingEnabled reports whether level turns logging on
func LoggingEnabled(level string) bool {
	switch strings.ToLower(level) {
	case "", "none", "off":
		return false
	}
	return true
}
