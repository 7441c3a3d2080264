// Package main provides the entry point for the blog publish agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 fatal failure, 2 run left replayable.
const (
	exitOK         = 0
	exitFailed     = 1
	exitReplayable = 2
)

var rootCmd = &cobra.Command{
	Use:   "publish_agent",
	Short: "Blog publish orchestration agent",
	Long:  "publish_agent researches, drafts, quality-checks and publishes blog posts to a WordPress site on a schedule, with durable per-step state and idempotent replays.",
}

// exitStatus is set by commands that report a run outcome. main exits
// with it only after Execute returns, so deferred cleanup runs first.
var exitStatus = exitOK

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailed)
	}
	os.Exit(exitStatus)
}
