// Command courserag answers questions about a corpus of course materials.
// It provides a CLI (via Cobra) for ingesting course documents and asking
// questions, and an HTTP server exposing the same assistant as a JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/courserag-go/cmd/courserag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
