// Package cmd provides the gesherd command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/edenlabs/gesher/internal/config"
	"github.com/edenlabs/gesher/internal/ui"
)

var (
	homeFlag   string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:     "gesherd",
	Short:   "Gesher soul daemon",
	Version: Version,
	Long: `gesherd keeps a persistent soul: zone, presence, emotion, thoughts,
memory crystals and breadcrumbs. It answers JSON commands on a Unix socket
and, in autonomous mode, thinks on a heartbeat through a language model and
runs the shell commands it proposes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init()
	},
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Gesher home directory (default $EDEN_HOME or ~/EDEN)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default <home>/gesher.toml)")
	rootCmd.SetVersionTemplate("gesherd {{.Version}}\n")
}

// loadConfig resolves the home directory and loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(homeFlag, configFlag)
}
