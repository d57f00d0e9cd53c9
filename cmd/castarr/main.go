// Package main is the entry point for the castarr application.
package main

import (
	"os"

	"github.com/jmylchreest/castarr/cmd/castarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
