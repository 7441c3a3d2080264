package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/blog-autopilot/internal/observability"
	"github.com/jonathan/blog-autopilot/internal/types"
)

var scheduleCommand = &cobra.Command{
	Use:   "schedule",
	Short: "Submit a post job and run its pipeline",
	Long: `Submits a publish job for a topic and drives its pipeline to a terminal state.

Modes:
  draft    create the post as an unpublished draft (default)
  publish  publish immediately once the pipeline finishes
  schedule publish at --at (interpreted in the site's timezone)

With --cron the job recurs and is only registered; start a worker to
serve recurring triggers. Exit code 0 on success, 1 on fatal failure,
2 when the run is left replayable.`,
	RunE: runScheduleCmd,
}

var (
	scheduleConfigPath string
	scheduleTopic      string
	scheduleMode       string
	scheduleAt         string
	scheduleCategories []string
	scheduleTags       []string
	scheduleTone       string
	scheduleLanguage   string
	scheduleCron       string
	scheduleVerbose    bool
)

func init() {
	scheduleCommand.Flags().StringVar(&scheduleConfigPath, "config", "", "Path to config.json file")
	scheduleCommand.Flags().StringVarP(&scheduleTopic, "topic", "t", "", "Post topic (required)")
	scheduleCommand.Flags().StringVarP(&scheduleMode, "mode", "m", "draft", "Publish mode: draft, publish or schedule")
	scheduleCommand.Flags().StringVar(&scheduleAt, "at", "", "Publish datetime for schedule mode: RFC3339 or 2006-01-02T15:04:05 in the site timezone")
	scheduleCommand.Flags().StringSliceVar(&scheduleCategories, "category", nil, "Category name (repeatable)")
	scheduleCommand.Flags().StringSliceVar(&scheduleTags, "tag", nil, "Tag name (repeatable)")
	scheduleCommand.Flags().StringVar(&scheduleTone, "tone", "", "Writing tone, e.g. conversational")
	scheduleCommand.Flags().StringVar(&scheduleLanguage, "language", "", "Content language (default English)")
	scheduleCommand.Flags().StringVar(&scheduleCron, "cron", "", "Cron expression for a recurring job")
	scheduleCommand.Flags().BoolVarP(&scheduleVerbose, "verbose", "v", false, "Print detailed progress")

	_ = scheduleCommand.MarkFlagRequired("topic")
	rootCmd.AddCommand(scheduleCommand)
}

func runScheduleCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	a, err := newAgent(ctx, scheduleConfigPath, scheduleVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	loc, err := a.cfg.SiteLocation()
	if err != nil {
		return err
	}
	job, err := buildJob(loc)
	if err != nil {
		return err
	}

	if len(job.Categories) == 0 && a.cfg.DefaultCategory != "" {
		job.Categories = []string{a.cfg.DefaultCategory}
	}
	if len(job.Tags) == 0 {
		job.Tags = a.cfg.DefaultTags
	}

	if err := a.sched.Submit(ctx, job); err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	if a.cfg.Verbose {
		printer.PrintJob(job)
	}

	if job.CronExpr != "" {
		fmt.Printf("Recurring job %s registered (cron %q); run 'publish_agent worker' to serve it\n",
			job.ID, job.CronExpr)
		return nil
	}

	result, err := a.replayer.Start(ctx, job.ID)
	if err != nil {
		return err
	}
	printer.PrintResult(&result)
	exitStatus = exitCode(result)
	return nil
}

// siteDateLayout is the zoneless form --at accepts; it is interpreted
// in the site's configured timezone, matching how the remote platform
// renders schedule datetimes.
const siteDateLayout = "2006-01-02T15:04:05"

func buildJob(loc *time.Location) (*types.Job, error) {
	mode := types.ScheduleMode(scheduleMode)
	var at *time.Time
	switch mode {
	case types.ModeDraft, types.ModePublish:
		if scheduleAt != "" {
			return nil, fmt.Errorf("--at is only valid with --mode schedule")
		}
	case types.ModeSchedule:
		if scheduleAt == "" {
			return nil, fmt.Errorf("--mode schedule requires --at")
		}
		parsed, err := parseScheduleAt(scheduleAt, loc)
		if err != nil {
			return nil, err
		}
		at = &parsed
	default:
		return nil, fmt.Errorf("invalid --mode %q: must be draft, publish or schedule", scheduleMode)
	}

	return &types.Job{
		ID:         uuid.New(),
		Topic:      scheduleTopic,
		Schedule:   types.ScheduleSpec{Mode: mode, At: at},
		Categories: scheduleCategories,
		Tags:       scheduleTags,
		Tone:       scheduleTone,
		Language:   scheduleLanguage,
		CronExpr:   scheduleCron,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// parseScheduleAt accepts either a full RFC3339 datetime or the
// zoneless site-local form, interpreted in loc.
func parseScheduleAt(value string, loc *time.Location) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	parsed, err := time.ParseInLocation(siteDateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value %q: want RFC3339 or %s (site timezone)", value, siteDateLayout)
	}
	return parsed, nil
}
