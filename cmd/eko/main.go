// ABOUTME: Entry point for eko, a conversational agent with long-term memory
// ABOUTME: Dispatches to the cobra command tree and maps errors to exit codes

package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
