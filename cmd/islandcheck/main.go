// Command islandcheck detects linker nondeterminism caused by branch
// island insertion.
package main

import (
	"os"

	"github.com/roach88/islandcheck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
