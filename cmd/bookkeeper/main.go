// Package main is the entry point for the bookkeeper CLI.
package main

import (
	"os"

	"github.com/warp/bookkeeping-engine/cmd/bookkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
