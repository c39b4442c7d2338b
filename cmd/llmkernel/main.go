// Package main provides the entry point for the llmkernel driver.
package main

import (
	"fmt"
	"os"

	"github.com/llmkernel/kernel/cmd/llmkernel/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
