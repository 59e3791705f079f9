// Command fleetctl is the operator CLI for the fleetforge Manager API:
// create and control VMs, manage images/volumes/networks/templates, and
// inspect fleet hosts.
package main

import (
	"fmt"
	"os"

	"github.com/fleetforge/fleetforge/cmd/fleetctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
