// gesherd is the soul daemon: it keeps a persistent soul state, thinks on a
// heartbeat through a language model, and answers commands on a Unix socket.
package main

import (
	"os"

	"github.com/edenlabs/gesher/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
