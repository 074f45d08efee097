// Command ampa is the daemon and CLI entrypoint: start/stop/status/run/list
// drive the scheduler that delegates and audits a worklog backlog.
package main

import (
	"fmt"
	"os"

	"github.com/andywolf/ampa/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ampa:", err)
		os.Exit(1)
	}
}
