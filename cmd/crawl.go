package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the crawler once or on its schedule",
		Long: `Loads the site schemas, serves the ops API, and crawls. With schedule.spec
set the command keeps running and starts a run on every tick; otherwise, or
with --once, it performs a single run and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "ignore schedule.spec and perform a single run")
	return cmd
}

func runCrawlCommand(ctx context.Context, once bool) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if once {
		cfg.Schedule.Spec = ""
	}

	app, err := server.Build(ctx, cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	rt.logger.Info("crawl command finished")
	return nil
}
