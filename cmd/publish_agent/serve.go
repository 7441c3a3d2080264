package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/blog-autopilot/internal/server"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API with an embedded worker pool",
	Long: `Starts the HTTP API for job submission, run inspection, cancellation
and replay, with the dispatch worker pool running in the same process.`,
	RunE: runServeCmd,
}

var (
	serveConfigPath string
	serveAddr       string
	serveVerbose    bool
)

func init() {
	serveCommand.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCommand.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :8080)")
	serveCommand.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Print detailed progress")
	rootCmd.AddCommand(serveCommand)
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newAgent(ctx, serveConfigPath, serveVerbose)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.ListenAddr
	}
	srv := server.New(server.Config{Addr: addr}, a.store, a.sched, a.replayer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sched.Run(ctx)
	})
	g.Go(func() error {
		defer cancel() // server shutdown stops the worker pool too
		return srv.Start()
	})

	if err := g.Wait(); err != nil {
		log.Printf("serve: %v", err)
		return err
	}
	return nil
}
