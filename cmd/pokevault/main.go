// Command pokevault is an offline-first Pokémon catalog client.
//
// All writes land in a local SQLite vault immediately and are queued for
// the remote catalog; `pokevault sync` drains the queue and merges the
// remote snapshot back in. `pokevault serve` additionally exposes the
// engine to UI processes over a WebSocket bridge.
package main

import (
	"fmt"
	"os"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
