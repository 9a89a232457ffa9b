package main

import (
	"fmt"
	"os"

	"safelink/pkg/cmd"
)

func main() {
	if err := cmd.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "safelink: %v\n", err)
		os.Exit(1)
	}
}
