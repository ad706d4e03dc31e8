package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitIndexError   = 3
	ExitJobsFailed   = 4
	ExitStorageError = 5
	ExitInterrupted  = 130
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	// Flags without a command run fetch.
	if strings.HasPrefix(args[0], "-") && !isHelp(args[0]) {
		return runFetch(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "-help"
}

func printUsage() {
	fmt.Fprintln(stderr, `Usage: demfetch [command] [options]

Commands:
  fetch     Download, unpack and convert DEM tiles (default)
  list      Print the tile links of a data source

Run 'demfetch <command> -h' for command-specific help.`)
}
