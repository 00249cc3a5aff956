// Package main provides the entry point for the Prism CLI.
package main

import (
	"fmt"
	"os"

	"github.com/prism-ai/prism/cmd/prism/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
