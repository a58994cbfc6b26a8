// The main package for the shortlink-edge executable.
package main

import (
	"github.com/JakeFAU/shortlink-edge/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
