package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jitbridge",
	Short: "jitbridge - remote JIT activation over WireGuard",
	Long: `jitbridge provisions WireGuard identities for mobile devices and
drives the on-device JIT/debug activation protocol through a bounded
pool of worker processes.

Devices register once with a pairing record and receive a tunnel
config; every activation request after that is a single HTTP call.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"jitbridge version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deviceCmd)
}
