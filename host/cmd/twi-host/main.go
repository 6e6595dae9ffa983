// Command twi-host drives a TWI bus through the bridge firmware, or through
// a simulated bus when no board is attached.
//
//	twi-host --device /dev/ttyUSB0 scan
//	twi-host --sim read 0x50 0x10 4
//	twi-host --sim shell
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
