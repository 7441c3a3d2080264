package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/blog-autopilot/internal/media"
	"github.com/jonathan/blog-autopilot/internal/observability"
	"github.com/jonathan/blog-autopilot/internal/quality"
	"github.com/jonathan/blog-autopilot/internal/types"
)

var previewCommand = &cobra.Command{
	Use:   "preview",
	Short: "Generate and quality-check a draft without publishing",
	Long: `Runs the generation steps and the quality gate locally and prints the
resulting draft. Nothing is persisted and the remote site is never
contacted, so no site credentials are needed.`,
	RunE: runPreviewCmd,
}

var (
	previewConfigPath string
	previewTopic      string
	previewTone       string
	previewVerbose    bool
)

func init() {
	previewCommand.Flags().StringVar(&previewConfigPath, "config", "", "Path to config.json file")
	previewCommand.Flags().StringVarP(&previewTopic, "topic", "t", "", "Post topic (required)")
	previewCommand.Flags().StringVar(&previewTone, "tone", "", "Writing tone")
	previewCommand.Flags().BoolVarP(&previewVerbose, "verbose", "v", false, "Print detailed progress")

	_ = previewCommand.MarkFlagRequired("topic")
	rootCmd.AddCommand(previewCommand)
}

func runPreviewCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadAgentConfig(previewConfigPath, previewVerbose)
	if err != nil {
		return err
	}

	a := &agent{cfg: cfg}
	suite, err := buildSuite(ctx, a, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	job := &types.Job{Topic: previewTopic, Tone: previewTone,
		Schedule: types.ScheduleSpec{Mode: types.ModeDraft}}
	draft := types.NewDraft(job)

	steps := []struct {
		name string
		fn   func(context.Context, types.ContentDraft) (types.ContentDraft, error)
	}{
		{"research", suite.Researcher.Research},
		{"outline", suite.Outliner.Outline},
		{"draft", suite.Writer.Write},
		{"seo rewrite", suite.SEO.Rewrite},
		{"image select", (&media.LocalLibrary{Dir: cfg.MediaDir}).Select},
	}
	for _, step := range steps {
		if cfg.Verbose {
			fmt.Printf("Running %s...\n", step.name)
		}
		draft, err = step.fn(ctx, draft)
		if err != nil {
			return fmt.Errorf("%s failed: %w", step.name, err)
		}
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintDraft(&draft)

	rules := quality.DefaultRules()
	rules.MinWordCount = cfg.MinWordCount
	rules.MaxWordCount = cfg.MaxWordCount
	rules.BannedTerms = cfg.BannedTerms
	verdict, err := quality.NewGate(rules).Check(ctx, draft)
	if err != nil {
		return fmt.Errorf("quality check failed: %w", err)
	}
	printer.PrintVerdict(&verdict)

	if !verdict.Passed {
		exitStatus = exitFailed
	}
	return nil
}
