package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var cancelCommand = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a job",
	Long: `Sets the job's cancel flag. A running pipeline honors it at its next
step boundary; in-flight remote calls are allowed to complete so the
site is never left half-written. Already-terminal runs are unaffected.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelCmd,
}

var cancelConfigPath string

func init() {
	cancelCommand.Flags().StringVar(&cancelConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(cancelCommand)
}

func runCancelCmd(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	a, err := newStoreAgent(ctx, cancelConfigPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	fmt.Printf("Cancel requested for job %s; the pipeline stops at its next step boundary\n", jobID)
	return nil
}
