package main

import "fmt"

// APIVersion is reported by /health and kept in step with the swagger document.
const APIVersion = "1.0.2"

var (
	Version    = "0.0.1"
	CommitHash = ""
)

func PrintVersion() {
	fmt.Printf("wax-node-directory version: %s (api %s)\n", Version, APIVersion)
	if CommitHash != "" {
		fmt.Printf("commit hash: %s\n", CommitHash)
	}
}
