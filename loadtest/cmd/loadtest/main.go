// Package main is the entry point for the matcher load test binary.
//
// Usage:
//
//	loadtest match [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "match":
		runMatch(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  match       Matching flow load test — pairs of users match, ready up and start a collaboration")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
