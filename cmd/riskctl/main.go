// Command riskctl is the operator console for the risk gate: it inspects and
// flips the halt flags, lists reservations and runs offline checks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "riskctl: %v\n", err)
		os.Exit(1)
	}
}
