package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// artifactCmd is the parent command for artifact operations.
var artifactCmd = &cobra.Command{
	Use:     "artifact",
	Aliases: []string{"artifacts"},
	Short:   "Score a run's responses against the suite",
}

// artifactEvaluateCmd scores an artifact, returning the cached result if
// one already exists.
var artifactEvaluateCmd = &cobra.Command{
	Use:   "evaluate <artifact-id>",
	Short: "Score an artifact against the suite",
	Example: `  # Score a completed run's responses
  harnessctl artifact evaluate artifact-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ShowSpinner("Evaluating artifact...")
		result, err := apiClient.Evaluate(ctx, args[0])
		HideSpinner()
		if err != nil {
			return fmt.Errorf("failed to evaluate artifact: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(result)
		}

		fmt.Printf("%s\n", Bold("Evaluation"))
		fmt.Printf("  Artifact: %s\n", result.ArtifactID)
		fmt.Printf("  Model:    %s\n", result.Meta.Model)
		fmt.Printf("  Variant:  %s\n", result.Meta.Variant)
		fmt.Printf("  Overall:  %.2f%%\n", result.Summary.OverallPercent)

		if len(result.Summary.Categories) > 0 {
			fmt.Printf("\n%s\n", Bold("Categories"))
			headers := []string{"CATEGORY", "SCORE", "MAX", "COUNT"}
			rows := make([][]string, len(result.Summary.Categories))
			for i, c := range result.Summary.Categories {
				rows[i] = []string{c.Category, fmt.Sprintf("%.2f", c.Score), fmt.Sprintf("%.2f", c.Max), fmt.Sprintf("%d", c.Count)}
			}
			printTable(headers, rows)
		}

		return nil
	},
}

func init() {
	artifactCmd.AddCommand(artifactEvaluateCmd)
}
