// Package main is the entry point for the coopad gamepad relay.
package main

import (
	"fmt"
	"os"

	"coopad.dev/coopad/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
