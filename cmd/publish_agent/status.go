package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/blog-autopilot/internal/types"
)

var statusCommand = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show jobs, runs and step progress",
	Long: `Without arguments, lists recent jobs. With a job id, shows the job's
runs, each run's current step and failure detail, and the remote post
reference once one exists.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatusCmd,
}

var statusConfigPath string

func init() {
	statusCommand.Flags().StringVar(&statusConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(statusCommand)
}

func runStatusCmd(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newStoreAgent(ctx, statusConfigPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		return printJobs(ctx, a)
	}

	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return printJobStatus(ctx, a, jobID)
}

func printJobs(ctx context.Context, a *agent) error {
	jobs, err := a.store.ListJobs(ctx, 50)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tTOPIC\tMODE\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			job.ID, job.Topic, job.Schedule.Mode, job.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printJobStatus(ctx context.Context, a *agent, jobID uuid.UUID) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("Job %s: %q (%s)\n", job.ID, job.Topic, job.Schedule.Mode)
	if job.CancelRequested {
		fmt.Println("  cancel requested")
	}

	runs, err := a.store.ListRuns(ctx, jobID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		line := fmt.Sprintf("  run %s: %s", run.ID, run.Status)
		if run.CurrentStep != "" {
			line += " at " + run.CurrentStep
		}
		if run.Superseded {
			line += " (superseded)"
		}
		fmt.Println(line)
		if run.FailureDetail != "" {
			fmt.Printf("    %s: %s\n", run.FailureKind, run.FailureDetail)
		}
		if run.Status == types.RunReplayable && !run.Superseded {
			fmt.Printf("    replay with: publish_agent replay --run %s\n", run.ID)
		}
	}

	ref, err := a.store.GetPostRef(ctx, jobID)
	if err != nil {
		return err
	}
	if ref != nil {
		fmt.Printf("  post #%d (%s) %s\n", ref.PostID, ref.Status, ref.URL)
	}
	return nil
}
