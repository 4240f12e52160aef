// Package main is the entry point for certmail.
package main

import (
	"os"

	"github.com/shineum/certmail-lite/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
