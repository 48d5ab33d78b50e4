package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edenlabs/gesher/internal/client"
	"github.com/edenlabs/gesher/internal/config"
	"github.com/edenlabs/gesher/internal/daemon"
	"github.com/edenlabs/gesher/internal/logging"
	"github.com/edenlabs/gesher/internal/ui"
	"github.com/edenlabs/gesher/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run gesherd in the foreground until SIGINT or SIGTERM.

This is what 'gesherd start' spawns, and what a systemd unit should exec.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Long: `Start gesherd in the background and wait until its socket answers.

The daemon runs until stopped with 'gesherd stop'.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Send SIGTERM to the running daemon, escalating to SIGKILL after the shutdown grace.`,
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Long:  `View the daemon log file.`,
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

var (
	logLines    int
	logFollow   bool
	logLevel    string
	startWait   time.Duration
	runNoStderr bool
)

func init() {
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runNoStderr, "quiet", false, "Log only to the log file")
	startCmd.Flags().DurationVar(&startWait, "wait", 10*time.Second, "How long to wait for the socket to answer")
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to show")
	logsCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(runCmd, startCmd, stopCmd, logsCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	levelName := cfg.Log.Level
	if logLevel != "" {
		levelName = logLevel
	}
	lvl, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	opts := logging.Options{Level: level, File: cfg.LogFile()}
	if runNoStderr {
		off := false
		opts.Journal = &off
		opts.Stderr = io.Discard
	}
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if err := daemon.Run(cmd.Context(), cfg, Version, logger.Logger); err != nil {
		logger.Error("gesherd failed", "error", err)
		return err
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("gesherd already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}
	runArgs := []string{"run", "--quiet", "--home", cfg.Home}
	if configFlag != "" {
		runArgs = append(runArgs, "--config", configFlag)
	}
	proc := exec.Command(exe, runArgs...)
	proc.Dir = cfg.Home
	// Detach from the terminal and the caller's process group.
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := os.MkdirAll(cfg.Home, 0755); err != nil {
		return fmt.Errorf("creating home: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	spawned := proc.Process.Pid
	_ = proc.Process.Release()

	ctx, cancel := context.WithTimeout(cmd.Context(), startWait)
	defer cancel()
	retry := util.DefaultRetryConfig()
	// ctx bounds the wait, not the attempt count.
	retry.MaxAttempts = 1000
	st, err := client.NewClient(cfg.Socket.Path, client.WithTimeout(2*time.Second)).WaitReady(ctx, retry)
	if err != nil {
		return fmt.Errorf("daemon did not answer (check logs with 'gesherd logs'): %w", err)
	}

	_, pid, _ = daemon.IsRunning(cfg)
	if pid != 0 && pid != spawned {
		// A concurrent start won the lock.
		fmt.Fprintf(cmd.OutOrStdout(), "%s gesherd already running (PID %d)\n", ui.RenderWarnIcon(), pid)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s gesherd started (PID %d, v%s): %s in %s\n",
		ui.RenderPassIcon(), spawned, Version, st.Soul.Name, st.Soul.Zone)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := daemon.StopDaemon(cfg, cfg.ShutdownGrace.Duration+2*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s gesherd not running\n", ui.RenderMuted("○"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s gesherd stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return tailLog(cmd, cfg)
}

func tailLog(cmd *cobra.Command, cfg *config.Config) error {
	logFile := cfg.LogFile()
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	var tailCmd *exec.Cmd
	if logFollow {
		tailCmd = exec.CommandContext(cmd.Context(), "tail", "-f", logFile)
	} else {
		tailCmd = exec.CommandContext(cmd.Context(), "tail", "-n", fmt.Sprintf("%d", logLines), logFile)
	}
	tailCmd.Stdout = cmd.OutOrStdout()
	tailCmd.Stderr = cmd.ErrOrStderr()
	return tailCmd.Run()
}
