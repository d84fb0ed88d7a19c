// The main package for the uplens CLI executable.
package main

import (
	"github.com/uplens/uplens/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
