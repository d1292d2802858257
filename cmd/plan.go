package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/planner"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Compute the category cover plan without crawling",
		Long: `Resolves the configured category URL pool to canonical categories,
samples each representative, and prints the greedy cover selection that
reaches the target coverage. Useful for inspecting what a crawl would do.`,
		RunE: runPlanCommand,
	}
}

type planOutput struct {
	Selected    []catalog.CategoryTarget `json:"selected"`
	Result      catalog.PlanResult       `json:"result"`
	SampleSizes []string                 `json:"sample_sizes"`
}

func runPlanCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	plan, err := a.BuildPlan(cmd.Context())
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	out := planOutput{
		Selected:    plan.Selected,
		Result:      plan.Result,
		SampleSizes: planner.SortedSampleSizes(plan.Samples),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return nil
}
