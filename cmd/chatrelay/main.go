package main

import (
	"os"

	"github.com/ent0n29/chatrelay/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
