// Command memengine is the memory automation engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/memengine/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
