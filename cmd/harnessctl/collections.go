package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// collectionCmd is the parent command for collection operations.
var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"collections"},
	Short:   "Group and compare scored artifacts",
	Long:    `Commands for grouping evaluated artifacts into named collections and comparing them.`,
}

// collectionCreateCmd creates a collection from a set of artifact IDs.
var collectionCreateCmd = &cobra.Command{
	Use:   "create <name> <artifact-id>[,<artifact-id>...]",
	Short: "Create a collection from one or more artifacts",
	Example: `  # Group two runs into a collection
  harnessctl collection create baseline-sweep artifact-1,artifact-2`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var ids []string
		for _, part := range strings.Split(args[1], ",") {
			ids = append(ids, strings.TrimSpace(part))
		}

		col, err := apiClient.PromoteToCollection(ctx, args[0], ids)
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(col)
		}
		Success(fmt.Sprintf("Created collection %s with %d member(s)", col.Name, len(col.Members)))
		return nil
	},
}

// collectionListCmd lists every collection.
var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching collections...")
		cols, err := apiClient.ListCollections(ctx)
		HideSpinner()
		if err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(cols)
		}

		if len(cols) == 0 {
			fmt.Println(Dim("No collections found."))
			return nil
		}

		headers := []string{"NAME", "MEMBERS", "CREATED"}
		rows := make([][]string, len(cols))
		for i, c := range cols {
			rows[i] = []string{c.Name, fmt.Sprintf("%d", len(c.Members)), formatTimestamp(c.CreatedAt.Format(time.RFC3339))}
		}
		printTable(headers, rows)
		return nil
	},
}

// collectionAddCmd adds an artifact to an existing collection.
var collectionAddCmd = &cobra.Command{
	Use:   "add <name> <artifact-id>",
	Short: "Add an artifact to a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiClient.AddToCollection(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to add artifact to collection: %w", err)
		}
		Success(fmt.Sprintf("Added %s to %s", args[1], args[0]))
		return nil
	},
}

// collectionRemoveCmd removes an artifact from a collection.
var collectionRemoveCmd = &cobra.Command{
	Use:   "remove <name> <artifact-id>",
	Short: "Remove an artifact from a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiClient.RemoveFromCollection(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to remove artifact from collection: %w", err)
		}
		Success(fmt.Sprintf("Removed %s from %s", args[1], args[0]))
		return nil
	},
}

// collectionDeleteCmd deletes a collection.
var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiClient.DeleteCollection(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		Success(fmt.Sprintf("Deleted collection %s", args[0]))
		return nil
	},
}

// collectionStatsCmd shows a collection's aggregate statistics.
var collectionStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show a collection's aggregate statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stats, err := apiClient.CollectionStats(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch collection stats: %w", err)
		}
		return printStats(*stats)
	},
}

// collectionCompareCmd diffs two collections' statistics.
var collectionCompareCmd = &cobra.Command{
	Use:   "compare <name-a> <name-b>",
	Short: "Compare two collections",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cmp, err := apiClient.Compare(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to compare collections: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(cmp)
		}

		fmt.Printf("%s\n", Bold("A: "+cmp.A.Name))
		printStatsBody(cmp.A)
		fmt.Printf("\n%s\n", Bold("B: "+cmp.B.Name))
		printStatsBody(cmp.B)

		fmt.Printf("\n%s\n", Bold("Category Deltas (B - A)"))
		headers := []string{"CATEGORY", "DELTA"}
		rows := make([][]string, len(cmp.Categories))
		for i, cat := range cmp.Categories {
			delta := cmp.CategoryDeltas[cat]
			fn := Green
			if delta < 0 {
				fn = Red
			}
			rows[i] = []string{cat, fn(fmt.Sprintf("%+.2f", delta))}
		}
		printTable(headers, rows)
		return nil
	},
}

func printStats(s Stats) error {
	if outputFormat == "json" {
		return printJSON(s)
	}
	fmt.Printf("%s\n", Bold(s.Name))
	printStatsBody(s)
	return nil
}

func printStatsBody(s Stats) {
	fmt.Printf("  Files:    %d\n", s.FileCount)
	fmt.Printf("  Mean:     %.2f%%\n", s.MeanPercent)
	fmt.Printf("  StdDev:   %.2f%%\n", s.StdDevPercent)
	if len(s.CategoryMeans) > 0 {
		fmt.Printf("  Categories:\n")
		for cat, mean := range s.CategoryMeans {
			fmt.Printf("    %-20s %.2f%%\n", cat, mean)
		}
	}
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionListCmd)
	collectionCmd.AddCommand(collectionAddCmd)
	collectionCmd.AddCommand(collectionRemoveCmd)
	collectionCmd.AddCommand(collectionDeleteCmd)
	collectionCmd.AddCommand(collectionStatsCmd)
	collectionCmd.AddCommand(collectionCompareCmd)
}
