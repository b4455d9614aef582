package main

import (
	"os"

	"github.com/conneroisu/splitpack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
