// Command fleetctl is the operator console for fleetd: order mutations,
// fleet optimization, and the live dashboard and driver views.
package main

import "os"

func main() {
	e := &env{}
	err := newRootCmd(e).Execute()
	e.close()
	if err != nil {
		os.Exit(1)
	}
}
