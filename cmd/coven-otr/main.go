// ABOUTME: Entry point for coven-otr, the trust store and identity administration tool
// ABOUTME: Lists and verifies peer fingerprints and provisions sealed account identities

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the coven-otr config file.
// Priority: COVEN_OTR_CONFIG env var > XDG_CONFIG_HOME/coven/otr.yaml > ~/.config/coven/otr.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_OTR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "otr.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "otr.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-otr <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  fingerprints [ACCOUNT]             List known peer fingerprints")
	fmt.Println("  verify ACCOUNT PEER FINGERPRINT    Mark a peer fingerprint as verified")
	fmt.Println("  unverify ACCOUNT PEER FINGERPRINT  Mark a peer fingerprint as unverified")
	fmt.Println("  forget ACCOUNT                     Delete an account's fingerprints and identity")
	fmt.Println("  keygen ACCOUNT [--force]           Generate and store an account identity")
	fmt.Println("  whoami ACCOUNT                     Show an account's own fingerprint")
	fmt.Println("  history [ACCOUNT]                  Show recent trust and identity changes")
	fmt.Println("  version                            Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "fingerprints":
		err = runFingerprints(ctx, args)
	case "verify":
		err = runSetVerified(ctx, args, true)
	case "unverify":
		err = runSetVerified(ctx, args, false)
	case "forget":
		err = runForget(ctx, args)
	case "keygen":
		err = runKeygen(ctx, args)
	case "whoami":
		err = runWhoami(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
