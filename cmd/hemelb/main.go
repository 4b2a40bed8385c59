// Command hemelb is the thin CLI driver (spec §6): it loads a geometry file
// and configuration out of an input directory, wires a Runtime for a local
// fleet of in-process ranks, runs it to completion, and maps any error to
// exit code 1.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
