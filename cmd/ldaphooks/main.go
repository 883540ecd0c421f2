// Package main is the entry point for the ldaphooks CLI, used to check
// configuration and to drive helper processes by hand.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
