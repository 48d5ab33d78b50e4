package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X github.com/edenlabs/gesher/internal/cmd.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if Commit != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "gesherd %s (%s)\n", Version, Commit)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gesherd %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
