package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "import":
		if err := importCmd(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "validate":
		if err := validateCmd(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "summary":
		if err := summaryCmd(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("nmodl2nineml version 1.0.0")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// stderrLogger builds the console logger the subcommands hand to the
// importer so warnings surface as they are discovered.
func stderrLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func printUsage() {
	fmt.Println(`nmodl2nineml - NMODL mechanism to NineML dynamics compiler

Usage:
  nmodl2nineml <command> [options]

Commands:
  import     Import a mechanism and write the component class as JSON
  validate   Import a mechanism and report errors and warnings
  summary    Display a quick summary of an imported component class
  help       Show this help message
  version    Show version information

Examples:
  # Import a channel mechanism
  nmodl2nineml import na.mod --json na.json

  # Import a point process with an explicit membrane equation
  nmodl2nineml import izhikevich.mod --membrane-voltage

  # Check a mechanism without writing output
  nmodl2nineml validate na.mod

  # Inspect the imported component class
  nmodl2nineml summary na.mod

For command-specific help, run:
  nmodl2nineml <command> --help`)
}
