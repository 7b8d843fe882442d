// Package main provides the entry point for the ragterm CLI.
package main

import (
	"os"

	"ragterm/cmd/ragterm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
