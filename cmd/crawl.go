package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

func newCrawlCmd() *cobra.Command {
	var (
		runID string
		serve bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the catalog crawl",
		Long: `Plans the category cover, then crawls every configured store context.
Progress checkpoints continuously; rerunning with --run-id resumes an
interrupted run from its last checkpoint instead of starting over.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, runID, serve)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "resume the run with this id (default: new run)")
	cmd.Flags().BoolVar(&serve, "serve", true, "expose the operator API while crawling")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, runID string, serve bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var report catalog.RunReport
	g, gctx := errgroup.WithContext(ctx)
	if serve {
		g.Go(func() error {
			return a.ServeAPI(gctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		r, crawlErr := a.Crawl(gctx, runID)
		report = r
		return crawlErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
