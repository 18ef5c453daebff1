// Package main is the entry point for the listing chat load test binary.
//
//   - seed:     write a SEED_FILE with N rooms for a memory-backed server
//   - presence: both participants of N seeded rooms stay connected while typing
//   - chat:     pairs of users join seeded rooms, exchange messages and mark them seen
//
// Usage:
//
//	loadtest <command> [options]
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
	case "seed":
		runSeed(os.Args[2:])
	case "presence":
		runPresence(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
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
	fmt.Println("  seed        Write a seed file with N rooms (start the server with SEED_FILE=<file>)")
	fmt.Println("  presence    Presence hold test: both participants of N rooms connect, type and stay online")
	fmt.Println("  chat        Room traffic test: pairs join rooms, send messages, mark them seen")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// roomID, inquirerID and ownerID name the fixtures shared by seed and chat.
func roomID(i int) string     { return fmt.Sprintf("lt-room-%d", i) }
func inquirerID(i int) string { return fmt.Sprintf("lt-inq-%d", i) }
func ownerID(i int) string    { return fmt.Sprintf("lt-own-%d", i) }
