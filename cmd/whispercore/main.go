package main

import (
	"os"

	"github.com/nupi-ai/whispercore/cmd/whispercore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
