// Package main is the entry point for the reportd binary.
package main

import (
	"os"

	"bitable-report/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
