package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/austindbirch/relay_load/cmd/relayctl/cmd"
)

func main() {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			log.Fatalf("load .env: %v", err)
		}
	}

	// cobra has already printed the error
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
