// Package main is the entry point for the elder-voice reliability service.
// It probes the backing services on an interval, keeps their availability
// status, and invokes remote actions with retries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
