// Command gosession-sweeper runs the session expiration sweep and keyspace listener
// as a standalone daemon, and exposes one-shot maintenance commands.
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
