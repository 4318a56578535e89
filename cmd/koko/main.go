package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/soyeahso/koko/internal/cli"
)

func main() {
	// Development convenience: re-exec when the binary is rebuilt.
	if os.Getenv("KOKO_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "koko:", err)
		os.Exit(1)
	}
}
