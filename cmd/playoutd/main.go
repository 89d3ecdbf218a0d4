// Package main is the entry point for the playoutd application.
package main

import (
	"os"

	"github.com/jmylchreest/playoutd/cmd/playoutd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
