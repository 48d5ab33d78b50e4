package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvHome, EnvBrain, EnvModelHost, EnvModelName, EnvRemoteURL,
		EnvSocket, EnvHeartbeat, EnvLogLevel, EnvAutonomous, EnvSync} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()

	cfg, err := Load(home, "")
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, BrainLocal, cfg.Brain.Backend)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Brain.Host)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Brain.Model)
	assert.Equal(t, 120*time.Second, cfg.Brain.Timeout.Duration)
	assert.Equal(t, "/tmp/gesher_el.sock", cfg.Socket.Path)
	assert.Equal(t, 60*time.Second, cfg.Autonomy.Heartbeat.Duration)
	assert.Equal(t, 1000, cfg.TerminalCapacity)
	assert.Equal(t, filepath.Join(home, "memory", "soul_state.json"), cfg.StateFile())
	assert.Equal(t, filepath.Join(home, "logs", "thoughts.ndjson"), cfg.ThoughtsFile())
	assert.Equal(t, filepath.Join(home, "logs", "daemon.log"), cfg.LogFile())
}

func TestLoad_RemoteGetsShorterTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBrain, "REMOTE")

	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, BrainRemote, cfg.Brain.Backend)
	assert.Equal(t, 30*time.Second, cfg.Brain.Timeout.Duration)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvModelHost, "http://10.0.0.5:11434")
	t.Setenv(EnvModelName, "llama3.2:3b")
	t.Setenv(EnvSocket, "/tmp/other.sock")
	t.Setenv(EnvHeartbeat, "15s")
	t.Setenv(EnvAutonomous, "true")

	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:11434", cfg.Brain.Host)
	assert.Equal(t, "llama3.2:3b", cfg.Brain.Model)
	assert.Equal(t, "/tmp/other.sock", cfg.Socket.Path)
	assert.Equal(t, 15*time.Second, cfg.Autonomy.Heartbeat.Duration)
	assert.True(t, cfg.Autonomy.StartEnabled)
}

func TestLoad_SyncDisabledByDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Zero(t, cfg.Autonomy.SyncInterval.Duration)
	assert.Equal(t, "gesher_sync", cfg.Autonomy.SyncThread)

	t.Setenv(EnvSync, "5m")
	cfg, err = Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Autonomy.SyncInterval.Duration)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	content := `
name = "Gesher-Test"
terminal_capacity = 200

[brain]
model = "from-file"
timeout = "45s"

[shell]
timeout = "5s"

[autonomy]
heartbeat = "2m"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(content), 0644))
	t.Setenv(EnvModelName, "from-env")

	cfg, err := Load(home, "")
	require.NoError(t, err)

	assert.Equal(t, "Gesher-Test", cfg.Name)
	assert.Equal(t, 200, cfg.TerminalCapacity)
	assert.Equal(t, "from-env", cfg.Brain.Model)
	assert.Equal(t, 45*time.Second, cfg.Brain.Timeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Shell.Timeout.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Autonomy.Heartbeat.Duration)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	path := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[brain]\nmodle = \"typo\"\n"), 0644))

	_, err := Load(home, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brain.modle")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()

	_, err := Load(home, filepath.Join(home, "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown brain", map[string]string{EnvBrain: "cloud"}, "unsupported brain"},
		{"bad host scheme", map[string]string{EnvModelHost: "ftp://x"}, "brain.host"},
		{"bad remote url", map[string]string{EnvBrain: "remote", EnvRemoteURL: "axismundi.fun"}, "brain.remote_url"},
		{"bad heartbeat", map[string]string{EnvHeartbeat: "soon"}, EnvHeartbeat},
		{"zero heartbeat", map[string]string{EnvHeartbeat: "0s"}, "autonomy.heartbeat"},
		{"bad autonomous", map[string]string{EnvAutonomous: "maybe"}, EnvAutonomous},
		{"bad sync interval", map[string]string{EnvSync: "often"}, EnvSync},
		{"negative sync interval", map[string]string{EnvSync: "-1m"}, "autonomy.sync_interval"},
		{"sync needs remote url", map[string]string{EnvSync: "5m", EnvRemoteURL: "axismundi.fun"}, "brain.remote_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir(), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_SocketPathTooLong(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Brain.Timeout = Duration{time.Second}
	cfg.Socket.Path = "/tmp/" + string(make([]byte, 200))

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestDefaultHome(t *testing.T) {
	t.Setenv(EnvHome, "/srv/eden")
	assert.Equal(t, "/srv/eden", DefaultHome())
}
