// Package main is the entry point for the pagecourier server.
package main

import (
	"os"

	"github.com/pagecourier/pagecourier/cmd/pagecourier/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
