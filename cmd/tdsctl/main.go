// Tdsctl is a command line tool for a home-automation central unit.
//
// It reads the connection settings and the component list from a YAML file and
// offers one-shot commands (get, set, group-get) and a long running monitor that
// prints state changes and optionally bridges them to MQTT.
//
// Usage:
//
//	tdsctl [command] [flags]
//
// See 'tdsctl --help' for available commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
