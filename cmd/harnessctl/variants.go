package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// variantCmd is the parent command for documentation variant operations.
var variantCmd = &cobra.Command{
	Use:     "variant",
	Aliases: []string{"variants"},
	Short:   "Inspect the documentation variant catalog",
}

// variantListCmd lists the variant catalog.
var variantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documentation variants",
	Example: `  # List all variants
  harnessctl variant list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching variants...")
		variants, err := apiClient.ListVariants(ctx)
		HideSpinner()
		if err != nil {
			return fmt.Errorf("failed to list variants: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(variants)
		}

		if len(variants) == 0 {
			fmt.Println(Dim("No variants found."))
			return nil
		}

		headers := []string{"NAME", "SIZE", "DOC REF"}
		rows := make([][]string, len(variants))
		for i, v := range variants {
			rows[i] = []string{v.Name, formatBytes(v.SizeBytes), truncate(v.DocRef, 60)}
		}
		printTable(headers, rows)
		return nil
	},
}

func init() {
	variantCmd.AddCommand(variantListCmd)
}
