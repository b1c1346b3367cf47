// Command btstackctl drives the mgmt dispatcher and GATT handler from the
// command line: list and power adapters, connect to a peer and dump its
// attribute tree, or serve a local GATT database to inbound connections.
package main

import (
	"fmt"
	"os"

	"github.com/arlojames/btstack/cmd/btstackctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
