package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edenlabs/gesher/internal/client"
)

var sendCmd = &cobra.Command{
	Use:   "send [json]",
	Short: "Send a raw JSON request to the daemon",
	Long: `Send one JSON request to the daemon socket and print the response.

The request is taken from the argument, or from stdin when no argument is
given:

  gesherd send '{"cmd":"zone","zone":"Creative Forge"}'
  echo '{"cmd":"thoughts","count":5}' | gesherd send`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

var sendCompact bool

func init() {
	sendCmd.Flags().BoolVar(&sendCompact, "compact", false, "Print the response as received")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var raw []byte
	if len(args) == 1 {
		raw = []byte(args[0])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("empty request")
	}

	resp, err := client.NewClient(cfg.Socket.Path).Send(cmd.Context(), raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatResponse(resp, sendCompact))

	if rerr := client.AsRemoteError(resp); rerr != nil {
		return rerr
	}
	return nil
}

// formatResponse indents a JSON response; anything else is returned as is.
func formatResponse(resp []byte, compact bool) string {
	resp = bytes.TrimSpace(resp)
	if compact {
		return string(resp)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, resp, "", "  "); err != nil {
		return strings.TrimSpace(string(resp))
	}
	return buf.String()
}
