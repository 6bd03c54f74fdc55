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

	var err error
	switch cmd := os.Args[1]; cmd {
	case "validate":
		err = runValidate(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("roleguard - role-based authorization engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  roleguard validate <file>                                   - Validate configuration")
	fmt.Println("  roleguard stats <file>                                      - Show configuration statistics")
	fmt.Println("  roleguard check <file> --actor A --module M --action X      - Evaluate one request against a configuration")
	fmt.Println("  roleguard serve [--config file]                             - Serve the decision API (env: ROLEGUARD_*)")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}
