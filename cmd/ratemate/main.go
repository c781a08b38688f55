// Command ratemate is the entry point for the RateMate home-buying assistant.
// It provides a CLI interface (via Cobra) and an optional HTTP server with
// a REST/SSE API for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/ratemate/ratemate-go/cmd/ratemate/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
