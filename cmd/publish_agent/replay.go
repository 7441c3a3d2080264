package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/blog-autopilot/internal/observability"
	"github.com/jonathan/blog-autopilot/internal/pipeline"
)

var replayCommand = &cobra.Command{
	Use:   "replay",
	Short: "Replay a failed or interrupted run",
	Long: `Resumes a terminal run from the step after its last durable outcome.
Remote artifacts created before the failure (uploaded media, the post
itself) are reused through the idempotency ledger, never duplicated.

With --from-scratch the job's previous runs are superseded and the
pipeline restarts at the first step; the remote post, if any, is
updated in place.`,
	RunE: runReplayCmd,
}

var (
	replayConfigPath  string
	replayRunID       string
	replayJobID       string
	replayFromScratch bool
	replayVerbose     bool
)

func init() {
	replayCommand.Flags().StringVar(&replayConfigPath, "config", "", "Path to config.json file")
	replayCommand.Flags().StringVar(&replayRunID, "run", "", "Run id to resume")
	replayCommand.Flags().StringVar(&replayJobID, "job", "", "Job id (resumes its latest replayable run, or restarts with --from-scratch)")
	replayCommand.Flags().BoolVar(&replayFromScratch, "from-scratch", false, "Supersede previous runs and restart from the first step")
	replayCommand.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Print detailed progress")
	rootCmd.AddCommand(replayCommand)
}

func runReplayCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	if (replayRunID == "") == (replayJobID == "") {
		return fmt.Errorf("exactly one of --run or --job is required")
	}
	if replayFromScratch && replayJobID == "" {
		return fmt.Errorf("--from-scratch requires --job")
	}

	a, err := newAgent(ctx, replayConfigPath, replayVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := replayTarget(ctx, a)
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintResult(&result)
	exitStatus = exitCode(result)
	return nil
}

func replayTarget(ctx context.Context, a *agent) (result pipeline.RunResult, err error) {
	if replayRunID != "" {
		runID, perr := uuid.Parse(replayRunID)
		if perr != nil {
			return result, fmt.Errorf("invalid run id %q: %w", replayRunID, perr)
		}
		return a.replayer.Resume(ctx, runID)
	}

	jobID, perr := uuid.Parse(replayJobID)
	if perr != nil {
		return result, fmt.Errorf("invalid job id %q: %w", replayJobID, perr)
	}
	if replayFromScratch {
		return a.replayer.FromScratch(ctx, jobID)
	}

	run, err := a.replayer.LatestReplayable(ctx, jobID)
	if err != nil {
		return result, fmt.Errorf("no replayable run for job %s: %w", jobID, err)
	}
	return a.replayer.Resume(ctx, run.ID)
}
