package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCommand = &cobra.Command{
	Use:   "worker",
	Short: "Run the dispatch worker pool",
	Long: `Serves queued and recurring jobs until interrupted. Runs are claimed
through the store, so multiple workers (or a worker plus ad-hoc
'schedule' invocations) never double-run a job.`,
	RunE: runWorkerCmd,
}

var (
	workerConfigPath string
	workerVerbose    bool
)

func init() {
	workerCommand.Flags().StringVar(&workerConfigPath, "config", "", "Path to config.json file")
	workerCommand.Flags().BoolVarP(&workerVerbose, "verbose", "v", false, "Print detailed progress")
	rootCmd.AddCommand(workerCommand)
}

func runWorkerCmd(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, workerConfigPath, workerVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Worker started (%d workers, quota %d publishes/day)\n",
		a.cfg.Workers, a.cfg.MaxPublishesPerDay)
	return a.sched.Run(ctx)
}
