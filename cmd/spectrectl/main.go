package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spectrectl: %v\n", err)
		os.Exit(exitCode(err))
	}
}
