package daemon

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonName(t *testing.T) {
	assert.Equal(t, "notifyd", daemonName())
}

func TestConfigDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", "")

		dir := ConfigDir()
		assert.NotEmpty(t, dir)
		assert.True(t, strings.HasSuffix(dir, ".ntvfs"), "should end with .ntvfs")
	})

	t.Run("override with NTVFS_CONFIG_DIR", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", "/tmp/test-ntvfs-config")
		assert.Equal(t, "/tmp/test-ntvfs-config", ConfigDir())
	})
}

func TestPathFunctions(t *testing.T) {
	t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())
	t.Setenv("NTVFS_DAEMON_LOG", "")

	tests := []struct {
		name   string
		fn     func() string
		suffix string
	}{
		{"SocketPath", SocketPath, "notifyd.sock"},
		{"PidPath", PidPath, "notifyd.pid"},
		{"LogPath", LogPath, "notifyd.log"},
		{"LockPath", LockPath, "notifyd.lock"},
		{"GlobalSettingsPath", GlobalSettingsPath, "settings.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.fn()
			assert.True(t, strings.HasSuffix(path, tt.suffix),
				"%s() = %q should end with %q", tt.name, path, tt.suffix)
			assert.True(t, strings.HasPrefix(path, ConfigDir()),
				"%s() = %q should be in config dir %q", tt.name, path, ConfigDir())
		})
	}

	t.Run("log override", func(t *testing.T) {
		t.Setenv("NTVFS_DAEMON_LOG", "/tmp/elsewhere.log")
		assert.Equal(t, "/tmp/elsewhere.log", LogPath())
	})
}

func TestInitConfigDir(t *testing.T) {
	t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())

	require.NoError(t, InitConfigDir())

	info, err := os.Stat(ConfigDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(GlobalSettingsPath())
	assert.NoError(t, err, "settings file should be created")

	// a second init keeps the user's file
	require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("share_name: mine\n"), 0600))
	require.NoError(t, InitConfigDir())
	data, err := os.ReadFile(GlobalSettingsPath())
	require.NoError(t, err)
	assert.Equal(t, "share_name: mine\n", string(data))
}

func TestGlobalSettings(t *testing.T) {
	t.Run("defaults from embedded artifact", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())

		settings, err := LoadGlobalSettings()
		require.NoError(t, err)

		assert.Empty(t, settings.LogLevel)
		assert.Equal(t, "ntvfs", settings.ShareName)
		assert.Equal(t, "127.0.0.1:8445", settings.ListenAddr)
		assert.Empty(t, settings.MetricsAddr)
		assert.Equal(t, 100*time.Millisecond, settings.CoalesceInterval())
		assert.Equal(t, 50*time.Millisecond, settings.LockRetryInterval())
		assert.False(t, settings.CaseInsensitive)
		assert.Contains(t, settings.NotifyIgnore, ".DS_Store")
	})

	t.Run("save and load", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())

		settings := &GlobalSettings{
			LogLevel:         "debug",
			ShareName:        "data",
			ListenAddr:       "0.0.0.0:445",
			Root:             "/srv/data",
			MetricsAddr:      "127.0.0.1:9100",
			NotifyCoalesceMs: 250,
			LockRetryMs:      20,
			NotifyIgnore:     []string{"*.tmp"},
		}
		require.NoError(t, SaveGlobalSettings(settings))

		loaded, err := LoadGlobalSettings()
		require.NoError(t, err)
		assert.Equal(t, settings, loaded)
	})

	t.Run("partial file gets defaults", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())
		require.NoError(t, EnsureConfigDir())
		require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("root: /srv\n"), 0600))

		loaded, err := LoadGlobalSettings()
		require.NoError(t, err)
		assert.Equal(t, "/srv", loaded.Root)
		assert.Equal(t, "ntvfs", loaded.ShareName)
		assert.Equal(t, 100, loaded.NotifyCoalesceMs)
		assert.Equal(t, 50, loaded.LockRetryMs)
	})

	t.Run("malformed file", func(t *testing.T) {
		t.Setenv("NTVFS_CONFIG_DIR", t.TempDir())
		require.NoError(t, EnsureConfigDir())
		require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("root: [\n"), 0600))

		_, err := LoadGlobalSettings()
		assert.Error(t, err)
	})
}

func TestConfigureLogging(t *testing.T) {
	defer func() {
		ConfigureLogging("", nil)
		log.SetLevel(log.InfoLevel)
	}()

	var buf bytes.Buffer
	ConfigureLogging("INFO", &buf)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	log.Debug("hidden")
	log.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	ConfigureLogging("trace", &buf)
	assert.Equal(t, log.TraceLevel, log.GetLevel())

	assert.True(t, LoggingEnabled("warn"))
	assert.False(t, LoggingEnabled("none"))
	assert.False(t, LoggingEnabled("OFF"))
	assert.False(t, LoggingEnabled(""))
}
