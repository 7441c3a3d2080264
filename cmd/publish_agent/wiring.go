package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/blog-autopilot/internal/config"
	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/db/memstore"
	"github.com/jonathan/blog-autopilot/internal/generate"
	"github.com/jonathan/blog-autopilot/internal/media"
	"github.com/jonathan/blog-autopilot/internal/pipeline"
	"github.com/jonathan/blog-autopilot/internal/quality"
	"github.com/jonathan/blog-autopilot/internal/retry"
	"github.com/jonathan/blog-autopilot/internal/schemas"
	"github.com/jonathan/blog-autopilot/internal/scheduler"
	"github.com/jonathan/blog-autopilot/internal/types"
	"github.com/jonathan/blog-autopilot/internal/wp"
)

// agent bundles everything a command needs, plus the cleanup to run on
// exit.
type agent struct {
	cfg      *config.Config
	store    db.Store
	executor *pipeline.Executor
	replayer *pipeline.Replayer
	sched    *scheduler.Scheduler

	closers []func()
}

func (a *agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadAgentConfig resolves the effective configuration: file values,
// then environment, then defaults.
func loadAgentConfig(path string, verbose bool) (*config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		if verbose {
			fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", path)
		}
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// buildStore connects to PostgreSQL when a database URL is configured
// and falls back to the in-process store otherwise. The in-process
// store loses all state on exit; it exists for previews and local
// experimentation.
func buildStore(ctx context.Context, a *agent) error {
	if a.cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "Warning: no database configured, state will not survive this process")
		a.store = memstore.New()
		return nil
	}
	database, err := db.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.store = database
	a.closers = append(a.closers, database.Close)
	return nil
}

// newStoreAgent wires only the store, for read-only commands (status)
// and cancel requests that never touch the remote site or the
// generation model and so need no credentials.
func newStoreAgent(ctx context.Context, configPath string, verbose bool) (*agent, error) {
	cfg, err := loadAgentConfig(configPath, verbose)
	if err != nil {
		return nil, err
	}
	a := &agent{cfg: cfg}
	if err := buildStore(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// newAgent wires the full pipeline: store, WordPress adapter, Gemini
// generation suite, media library, quality gate and draft schema
// validation.
func newAgent(ctx context.Context, configPath string, verbose bool) (*agent, error) {
	cfg, err := loadAgentConfig(configPath, verbose)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg}
	if err := buildStore(ctx, a); err != nil {
		return nil, err
	}

	loc, err := cfg.SiteLocation()
	if err != nil {
		a.Close()
		return nil, err
	}
	adapter := wp.NewClient(wp.Config{
		BaseURL:     cfg.SiteURL,
		Username:    cfg.Username,
		AppPassword: cfg.AppPassword,
		SiteTZ:      loc,
		CallTimeout: cfg.StepTimeout.Std(),
	})

	suite, err := buildSuite(ctx, a, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	library := &media.LocalLibrary{Dir: cfg.MediaDir}

	rules := quality.DefaultRules()
	rules.MinWordCount = cfg.MinWordCount
	rules.MaxWordCount = cfg.MaxWordCount
	rules.BannedTerms = cfg.BannedTerms
	if cfg.LinkCheckEnabled {
		rules.Links = &quality.HTTPLinkChecker{}
	}

	validator, err := schemas.NewDraftValidator("")
	var validate func(types.ContentDraft) error
	if err == nil {
		validate = validator.Validate
	} else if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "draft schema unavailable, skipping validation: %v\n", err)
	}

	a.executor = &pipeline.Executor{
		Store:   a.store,
		Adapter: adapter,
		Gen:     suite,
		Media:   library,
		Reader:  library,
		Quality: quality.NewGate(rules),
		Policy: retry.Policy{
			Base:               cfg.RetryBase.Std(),
			Ceiling:            cfg.RetryCeiling.Std(),
			MaxNetworkAttempts: cfg.MaxNetworkAttempts,
			MaxLocalAttempts:   cfg.MaxLocalAttempts,
			Jitter:             0.2,
		},
		Validate:          validate,
		StepTimeout:       cfg.StepTimeout.Std(),
		ScheduleTolerance: cfg.ScheduleTolerance.Std(),
		Verbose:           cfg.Verbose,
	}
	a.replayer = &pipeline.Replayer{Executor: a.executor}
	a.sched = &scheduler.Scheduler{
		Store:               a.store,
		Runner:              a.replayer,
		Workers:             cfg.Workers,
		MaxPublishesPerDay:  cfg.MaxPublishesPerDay,
		MaxPublishesPerHour: cfg.MaxPublishesPerHour,
		RequeueDelay:        cfg.RequeueDelay.Std(),
		RequeueJitter:       cfg.PublishJitter,
		AutoReplayAttempts:  cfg.AutoReplayAttempts,
		Verbose:             cfg.Verbose,
	}
	return a, nil
}

func buildSuite(ctx context.Context, a *agent, cfg *config.Config) (generate.Suite, error) {
	if cfg.GeminiAPIKey == "" {
		return generate.Suite{}, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY or gemini_api_key in config)")
	}
	client, err := generate.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		return generate.Suite{}, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client.Suite(), nil
}

// exitCode maps a run result to the process exit code.
func exitCode(result pipeline.RunResult) int {
	switch result.Status {
	case types.RunSucceeded:
		return exitOK
	case types.RunReplayable:
		return exitReplayable
	default:
		return exitFailed
	}
}
