package main

import (
	"os"

	"github.com/postpipe/connector/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
