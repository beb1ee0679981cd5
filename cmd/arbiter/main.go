package main

import (
	"os"

	"github.com/rustyeddy/arbiter/cmd/arbiter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
