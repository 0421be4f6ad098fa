// Command clinvia is the entry point for the clinic assistant service.
// It provides a CLI (via Cobra) to run the WebSocket/HTTP server, ask
// one-shot questions, and manage the retrieval indexes.
package main

import (
	"fmt"
	"os"

	"github.com/clinvia/assist/cmd/clinvia/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
