// main.go - Einstiegspunkt der lemonade-CLI
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lemonade-sdk/lemonade/cmd"
)

func main() {
	if err := cmd.NewCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
