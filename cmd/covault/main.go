package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Covault-Labs/covault/core/pkg/config"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stdout, stderr)
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "profiles":
		return runProfiles(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "covault %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(stdout, stderr)
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "covault %s — custodial accounts under collective authorization\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  covault <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve      Run the console API over the configured store (default)")
	fmt.Fprintln(w, "  demo       Walk a governance lifecycle on an in-memory account")
	fmt.Fprintln(w, "  profiles   Validate and list governance profiles (--dir)")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w, "  help       Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from the environment: PORT, STORE_BACKEND")
	fmt.Fprintln(w, "(memory|sqlite|postgres), DATABASE_URL, SQLITE_PATH, REDIS_ADDR,")
	fmt.Fprintln(w, "PROFILES_DIR, ARCHIVE_BACKEND (file|s3|none), TELEMETRY_ENABLED.")
	fmt.Fprintln(w, "")
}

// runProfiles loads every profile in a directory, validates each, and
// prints a summary. Exit 1 when any profile fails validation so the
// command can gate deploys.
func runProfiles(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("profiles", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "profiles", "directory holding profile_<code>.yaml files")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	profiles, err := config.LoadAllProfiles(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "load profiles: %v\n", err)
		return 1
	}
	if len(profiles) == 0 {
		fmt.Fprintf(stderr, "no profiles found under %s\n", *dir)
		return 1
	}

	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		p := profiles[code]
		fmt.Fprintf(stdout, "%-14s %-10s %q (%d admission rules)\n",
			code, p.Strategy, p.Name, len(p.AdmissionRules))
	}
	return 0
}
