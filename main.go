package main

import (
	"fmt"
	"os"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd"
)

// exitFailure is reported to the shell as 255.
const exitFailure = -1

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}
