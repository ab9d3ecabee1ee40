// Command smartalerts runs the smart alerts service and its one-shot
// maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/saashqdev/ops-center-sub002/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
