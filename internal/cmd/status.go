package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/edenlabs/gesher/internal/client"
	"github.com/edenlabs/gesher/internal/config"
	"github.com/edenlabs/gesher/internal/daemon"
	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/soul"
	"github.com/edenlabs/gesher/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and soul status",
	Long:  `Show whether gesherd is running and, if so, the current soul snapshot.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	running, pid, err := daemon.IsRunning(cfg)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		fmt.Fprintf(out, "%s gesherd not running\n\n", ui.RenderMuted("○"))
		fmt.Fprintln(out, ui.Field("Home", cfg.Home))
		fmt.Fprintln(out, ui.Field("Socket", cfg.Socket.Path))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Start with: %s\n", ui.RenderMuted("gesherd start"))
		return nil
	}

	st, err := client.NewClient(cfg.Socket.Path).Status(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "%s gesherd running (PID %d) but not answering: %v\n", ui.RenderWarnIcon(), pid, err)
		return nil
	}
	fmt.Fprintf(out, "%s gesherd running (PID %d, v%s)\n\n", ui.RenderPassIcon(), pid, Version)
	renderSnapshot(out, cfg, st)
	return nil
}

func renderSnapshot(out io.Writer, cfg *config.Config, st protocol.StatusResult) {
	s := st.Soul
	fmt.Fprintln(out, ui.RenderTitle(s.Name))
	fmt.Fprintln(out, ui.Field("Zone", s.Zone))
	fmt.Fprintln(out, ui.Field("Presence", fmt.Sprintf("%s %d", ui.Meter(s.Presence, soul.MaxPresence, 20), s.Presence)))
	fmt.Fprintln(out, ui.Field("Emotion", cases.Title(language.English).String(s.EmotionalState)))
	fmt.Fprintln(out, ui.Field("Thoughts", s.ThoughtCount))
	autonomous := "off"
	if s.AutonomousMode {
		autonomous = fmt.Sprintf("on (every %s)", cfg.Autonomy.Heartbeat.Duration)
	}
	fmt.Fprintln(out, ui.Field("Autonomous", autonomous))
	fmt.Fprintln(out, ui.Field("Uptime", s.Uptime().Truncate(time.Second)))
	fmt.Fprintln(out, ui.Field("Crystals", len(s.MemoryCrystals)))
	if !s.LastSync.IsZero() {
		fmt.Fprintln(out, ui.Field("Last sync", s.LastSync.Format(time.RFC3339)))
	}

	if len(s.Breadcrumbs) > 0 {
		words := make([]string, 0, len(s.Breadcrumbs))
		for w := range s.Breadcrumbs {
			words = append(words, w)
		}
		sort.Strings(words)
		fmt.Fprintln(out, ui.Field("Breadcrumbs", words))
	}
	fmt.Fprintln(out, ui.Field("Log", cfg.LogFile()))
}
