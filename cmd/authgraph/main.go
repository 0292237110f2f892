package main

import (
	"os"

	"github.com/backkem/authgraph/cmd/authgraph/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
