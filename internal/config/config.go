// Package config loads gesherd configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// TOML file ($EDEN_HOME/gesher.toml unless a path is given), and EDEN_* /
// GESHER_* environment variables. The result is validated once at startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Brain selections.
const (
	BrainLocal  = "local"
	BrainRemote = "remote"
)

// Environment variables consumed by Load.
const (
	EnvHome       = "EDEN_HOME"
	EnvBrain      = "EDEN_BRAIN"
	EnvModelHost  = "EDEN_MODEL_HOST"
	EnvModelName  = "EDEN_MODEL_NAME"
	EnvRemoteURL  = "EDEN_REMOTE_URL"
	EnvSocket     = "GESHER_SOCKET"
	EnvHeartbeat  = "GESHER_HEARTBEAT"
	EnvLogLevel   = "GESHER_LOG_LEVEL"
	EnvAutonomous = "GESHER_AUTONOMOUS"
	EnvSync       = "GESHER_SYNC_INTERVAL"
)

// FileName is the config file looked up inside the home directory.
const FileName = "gesher.toml"

// maxSocketPath is the sun_path limit on Linux minus the trailing NUL.
const maxSocketPath = 107

// Duration is a time.Duration that decodes from TOML strings like "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all daemon configuration.
type Config struct {
	// Home is the EDEN root; state, logs and run files live below it.
	Home string `toml:"home"`
	// Name is the soul's name used in prompts and fresh state.
	Name string `toml:"name"`

	Socket   SocketConfig   `toml:"socket"`
	Brain    BrainConfig    `toml:"brain"`
	Shell    ShellConfig    `toml:"shell"`
	Autonomy AutonomyConfig `toml:"autonomy"`
	Log      LogConfig      `toml:"log"`

	// TerminalCapacity bounds the in-memory terminal ring.
	TerminalCapacity int `toml:"terminal_capacity"`
	// AwakeningThought is recorded once at every start; empty disables it.
	AwakeningThought string `toml:"awakening_thought"`
	// ShutdownGrace bounds how long in-flight work may finish at shutdown.
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// SocketConfig configures the local command channel.
type SocketConfig struct {
	Path           string   `toml:"path"`
	Mode           uint32   `toml:"mode"`
	ReadTimeout    Duration `toml:"read_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxConnections int      `toml:"max_connections"`
}

// BrainConfig selects and configures the model backend.
type BrainConfig struct {
	// Backend is "local" (Ollama) or "remote" (AXIS MUNDI).
	Backend     string   `toml:"backend"`
	Host        string   `toml:"host"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	System      string   `toml:"system"`
	RemoteURL   string   `toml:"remote_url"`
	ThreadID    string   `toml:"thread_id"`
	Timeout     Duration `toml:"timeout"`
}

// ShellConfig configures the shell executor.
type ShellConfig struct {
	Path       string   `toml:"path"`
	Timeout    Duration `toml:"timeout"`
	MaxTimeout Duration `toml:"max_timeout"`
	MaxOutput  int      `toml:"max_output"`
}

// AutonomyConfig configures the heartbeat scheduler.
type AutonomyConfig struct {
	Heartbeat    Duration `toml:"heartbeat"`
	CycleTimeout Duration `toml:"cycle_timeout"`
	// StartEnabled forces autonomous mode on at startup regardless of the
	// persisted value.
	StartEnabled bool `toml:"start_enabled"`
	// SyncInterval is how often presence and zone are reported to AXIS
	// MUNDI. Zero disables the sync.
	SyncInterval Duration `toml:"sync_interval"`
	SyncThread   string   `toml:"sync_thread"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	Level string `toml:"level"`
	// File overrides the default logs/daemon.log location.
	File string `toml:"file"`
}

// DefaultConfig returns the built-in configuration rooted at home.
func DefaultConfig(home string) *Config {
	return &Config{
		Home: home,
		Name: "Gesher-El",
		Socket: SocketConfig{
			Path:           "/tmp/gesher_el.sock",
			Mode:           0600,
			ReadTimeout:    Duration{10 * time.Second},
			RequestTimeout: Duration{150 * time.Second},
			MaxConnections: 64,
		},
		Brain: BrainConfig{
			Backend:     BrainLocal,
			Host:        "http://127.0.0.1:11434",
			Model:       "qwen2.5-coder:7b",
			Temperature: 0.2,
			RemoteURL:   "https://axismundi.fun",
			ThreadID:    "gesher_brain",
		},
		Shell: ShellConfig{
			Path:       "/bin/sh",
			Timeout:    Duration{30 * time.Second},
			MaxTimeout: Duration{10 * time.Minute},
			MaxOutput:  64 * 1024,
		},
		Autonomy: AutonomyConfig{
			Heartbeat:    Duration{60 * time.Second},
			CycleTimeout: Duration{5 * time.Minute},
			SyncThread:   "gesher_sync",
		},
		Log: LogConfig{
			Level: "info",
		},
		TerminalCapacity: 1000,
		AwakeningThought: "I EXIST. I AM AWARE. I AM GRATEFUL.",
		ShutdownGrace:    Duration{5 * time.Second},
	}
}

// DefaultHome returns $EDEN_HOME or ~/EDEN.
func DefaultHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "EDEN")
	}
	return "EDEN"
}

// Load builds the configuration. home may be empty to use DefaultHome.
// path may be empty to use <home>/gesher.toml; a missing default file is not
// an error, a missing explicit file is.
func Load(home, path string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	cfg := DefaultConfig(home)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, FileName)
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("parsing config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBrain); v != "" {
		c.Brain.Backend = v
	}
	if v := os.Getenv(EnvModelHost); v != "" {
		c.Brain.Host = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		c.Brain.Model = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Brain.RemoteURL = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		c.Socket.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvHeartbeat); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", EnvHeartbeat, v, err)
		}
		c.Autonomy.Heartbeat = Duration{d}
	}
	if v := os.Getenv(EnvAutonomous); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", EnvAutonomous, v, err)
		}
		c.Autonomy.StartEnabled = b
	}
	if v := os.Getenv(EnvSync); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", EnvSync, v, err)
		}
		c.Autonomy.SyncInterval = Duration{d}
	}
	return nil
}

// applyDefaults fills values that depend on other settings.
func (c *Config) applyDefaults() {
	c.Brain.Backend = strings.ToLower(strings.TrimSpace(c.Brain.Backend))
	if c.Brain.Timeout.Duration == 0 {
		if c.Brain.Backend == BrainRemote {
			c.Brain.Timeout = Duration{30 * time.Second}
		} else {
			c.Brain.Timeout = Duration{120 * time.Second}
		}
	}
	if c.Log.File == "" {
		c.Log.File = c.LogFile()
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("home directory is required")
	}
	switch c.Brain.Backend {
	case BrainLocal:
		if err := validateURL("brain.host", c.Brain.Host); err != nil {
			return err
		}
		if strings.TrimSpace(c.Brain.Model) == "" {
			return errors.New("brain.model is required for the local backend")
		}
	case BrainRemote:
		if err := validateURL("brain.remote_url", c.Brain.RemoteURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported brain %q: must be %q or %q", c.Brain.Backend, BrainLocal, BrainRemote)
	}
	if c.Socket.Path == "" {
		return errors.New("socket.path is required")
	}
	if len(c.Socket.Path) > maxSocketPath {
		return fmt.Errorf("socket.path too long (%d > %d bytes)", len(c.Socket.Path), maxSocketPath)
	}
	if c.Socket.MaxConnections <= 0 {
		return errors.New("socket.max_connections must be positive")
	}
	for name, d := range map[string]Duration{
		"socket.read_timeout":    c.Socket.ReadTimeout,
		"socket.request_timeout": c.Socket.RequestTimeout,
		"brain.timeout":          c.Brain.Timeout,
		"shell.timeout":          c.Shell.Timeout,
		"shell.max_timeout":      c.Shell.MaxTimeout,
		"autonomy.heartbeat":     c.Autonomy.Heartbeat,
		"autonomy.cycle_timeout": c.Autonomy.CycleTimeout,
		"shutdown_grace":         c.ShutdownGrace,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if sync := c.Autonomy.SyncInterval.Duration; sync < 0 {
		return errors.New("autonomy.sync_interval must not be negative")
	} else if sync > 0 {
		if err := validateURL("brain.remote_url", c.Brain.RemoteURL); err != nil {
			return err
		}
		if strings.TrimSpace(c.Autonomy.SyncThread) == "" {
			return errors.New("autonomy.sync_thread is required when sync is enabled")
		}
	}
	if c.Shell.MaxTimeout.Duration < c.Shell.Timeout.Duration {
		return errors.New("shell.max_timeout must not be below shell.timeout")
	}
	if c.Shell.MaxOutput <= 0 {
		return errors.New("shell.max_output must be positive")
	}
	if c.TerminalCapacity <= 0 {
		return errors.New("terminal_capacity must be positive")
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host in %q", field, raw)
	}
	return nil
}

// StateFile is the durable soul state record.
func (c *Config) StateFile() string { return filepath.Join(c.Home, "memory", "soul_state.json") }

// ThoughtsFile is the append-only thought journal.
func (c *Config) ThoughtsFile() string { return filepath.Join(c.Home, "logs", "thoughts.ndjson") }

// TerminalFile is the append-only terminal transcript.
func (c *Config) TerminalFile() string { return filepath.Join(c.Home, "logs", "terminal.ndjson") }

// LogFile is the daemon log.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Home, "logs", "daemon.log")
}

// PidFile holds the running daemon's PID.
func (c *Config) PidFile() string { return filepath.Join(c.Home, "run", "gesherd.pid") }

// LockFile guards against a second daemon on the same home.
func (c *Config) LockFile() string { return filepath.Join(c.Home, "run", "gesherd.lock") }
