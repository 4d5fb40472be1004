package main

import (
	"os"

	"github.com/vmwire/vmwire/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
