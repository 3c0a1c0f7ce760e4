// The main package for the giftlists executable.
package main

import (
	"github.com/JakeFAU/giftlists/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
