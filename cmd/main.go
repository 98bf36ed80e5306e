package main

import (
	"os"

	"github.com/wilko77/splink/cmd/splink"
)

func main() {
	if err := splink.Execute(); err != nil {
		os.Exit(1)
	}
}
