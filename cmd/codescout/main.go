// Package main provides the entry point for the codescout CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/codescout/cmd/codescout/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
