package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// stdin is a variable to allow feeding append input in tests
var stdin io.Reader = os.Stdin

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[1] {
	case "append":
		return runAppendCmd(args[2:], stdout, stderr)
	case "project":
		return runProjectCmd(args[2:], stdout, stderr)
	case "exists":
		return runExistsCmd(args[2:], stdout, stderr)
	case "stats":
		return runStatsCmd(args[2:], stdout, stderr)
	case "tail":
		return runTailCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "caseledger", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitUsage
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%scaseledger %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sAppend-only case events, replayed on demand.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  caseledger <command> [flags] [case-id]")
	fmt.Fprintln(w, "")

	printSection(w, "LEDGER")
	printCommand(w, "append", "Append JSON records read from stdin (--force for status_check)")
	printCommand(w, "tail", "Print the last records (-n N, default 10)")
	printCommand(w, "stats", "Summarise the ledger (--json)")

	printSection(w, "CASES")
	printCommand(w, "project", "Print the current state of a case as JSON")
	printCommand(w, "exists", "Report whether a case was created (exit 3 if not)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")

	printSection(w, "ENVIRONMENT")
	printCommand(w, "CASELEDGER_CONFIG", "YAML config file")
	printCommand(w, "CASELEDGER_BACKEND", "file | sqlite | postgres | redis")
	printCommand(w, "CASELEDGER_PATH", "Ledger file (default data/cases.jsonl)")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-20s%s %s\n", ColorGreen, name, ColorReset, desc)
}
