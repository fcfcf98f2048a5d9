package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// envFileErr is reported once logging is set up.
var envFileErr error

func main() {
	// Load environment variables before flag defaults are derived from them
	envFileErr = godotenv.Load()

	if err := newRootCommand(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "homebridge: %v\n", err)
		os.Exit(1)
	}
}
