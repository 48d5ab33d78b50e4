package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/edenlabs/gesher/internal/config"
)

// ErrNotRunning is returned by StopDaemon when no daemon is running.
var ErrNotRunning = errors.New("gesherd is not running")

// processName is what a gesherd command line contains.
const processName = "gesherd"

// isGesherd reports whether pid is a gesherd process, guarding against PID
// reuse. Overridden in tests.
var isGesherd = func(pid int) bool {
	if data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline")); err == nil {
		argv0 := string(bytes.SplitN(data, []byte{0}, 2)[0])
		return strings.Contains(filepath.Base(argv0), processName)
	}
	// No procfs (macOS): ask ps.
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), processName)
}

// alive reports whether a process with pid exists.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsRunning reads the PID file and checks the process is a live gesherd.
// A stale PID file is removed. The lock held by Run is the authority on
// exclusivity; this is for status and stop.
func IsRunning(cfg *config.Config) (bool, int, error) {
	pidFile := cfg.PidFile()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return false, 0, fmt.Errorf("invalid PID in file %q", pidStr)
	}

	if !alive(pid) || !isGesherd(pid) {
		_ = os.Remove(pidFile)
		return false, 0, nil
	}
	return true, pid, nil
}

// StopDaemon sends SIGTERM and waits up to wait for the daemon to exit,
// then sends SIGKILL. It returns the PID that was stopped.
func StopDaemon(cfg *config.Config, wait time.Duration) (int, error) {
	running, pid, err := IsRunning(cfg)
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, ErrNotRunning
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return pid, fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Still running after the grace period.
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return pid, fmt.Errorf("sending SIGKILL: %w", err)
	}
	_ = os.Remove(cfg.PidFile())
	if err := os.Remove(cfg.Socket.Path); err != nil && !os.IsNotExist(err) {
		return pid, fmt.Errorf("removing socket after kill: %w", err)
	}
	return pid, nil
}
