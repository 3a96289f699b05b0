// The main package for the portal executable.
package main

import (
	"github.com/JakeFAU/workspace-portal/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
