// Package main is the entry point for the dbguardian service and CLI.
package main

import (
	"os"

	"github.com/semmidev/dbguardian/cmd/dbguardian/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
