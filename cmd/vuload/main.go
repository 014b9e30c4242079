package main

import (
	"errors"
	"os"

	"github.com/wesleyorama2/vuload/internal/cli"
)

// Main runs the command line and returns the process exit code.
// It's exported to make it testable
func Main() int {
	err := cli.Execute()
	if err == nil {
		return 0
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

func main() {
	os.Exit(Main())
}
