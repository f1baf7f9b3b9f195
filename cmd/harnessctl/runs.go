package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// runCmd is the parent command for run operations.
var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"runs"},
	Short:   "Submit and manage benchmark runs",
	Long:    `Commands for submitting, watching, cancelling, and rerunning benchmark runs.`,
}

// runSubmitCmd submits a new benchmark run.
var runSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new benchmark run",
	Long: `Submit a benchmark run against a model and documentation variant.

The suite is partitioned into batches either uniformly (--batch-size) or
by an explicit size list (--batch-sizes), and each batch is queued for
independent execution against the model.`,
	Example: `  # Submit a run with uniform batches of 10 tests
  harnessctl run submit --model gpt-5 --variant baseline --batch-size 10

  # Submit a run with explicit batch sizes
  harnessctl run submit --model gpt-5 --variant condensed --batch-sizes 5,10,20

  # Restrict the run to a subset of the suite
  harnessctl run submit --model gpt-5 --variant baseline --suite-filter basics,concurrency`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		model, _ := cmd.Flags().GetString("model")
		variant, _ := cmd.Flags().GetString("variant")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		batchSizesRaw, _ := cmd.Flags().GetString("batch-sizes")
		suiteFilterRaw, _ := cmd.Flags().GetString("suite-filter")
		queueSize, _ := cmd.Flags().GetInt("queue-size")

		if model == "" {
			return fmt.Errorf("--model is required")
		}
		if variant == "" {
			return fmt.Errorf("--variant is required")
		}

		var batchSizes []int
		if batchSizesRaw != "" {
			for _, part := range strings.Split(batchSizesRaw, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return fmt.Errorf("invalid --batch-sizes entry %q: %w", part, err)
				}
				batchSizes = append(batchSizes, n)
			}
		}

		var suiteFilter []string
		if suiteFilterRaw != "" {
			for _, part := range strings.Split(suiteFilterRaw, ",") {
				suiteFilter = append(suiteFilter, strings.TrimSpace(part))
			}
		}

		req := SubmitRequest{
			Model:       model,
			Variant:     variant,
			Temperature: temperature,
			BatchSize:   batchSize,
			BatchSizes:  batchSizes,
			SuiteFilter: suiteFilter,
			QueueSize:   queueSize,
		}

		ShowSpinner("Submitting run...")
		ids, err := apiClient.Submit(ctx, req)
		HideSpinner()
		if err != nil {
			return fmt.Errorf("failed to submit run: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(map[string]interface{}{"run_ids": ids})
		}

		fmt.Printf("%s\n", Bold("Submitted"))
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

// runStatusCmd fetches a run's current snapshot.
var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's current status",
	Example: `  # Check a run's progress
  harnessctl run status run-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		snap, err := apiClient.GetRunStatus(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get run status: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(snap)
		}

		fmt.Printf("%s\n", Bold("Run Status"))
		fmt.Printf("  ID:       %s\n", snap.ID)
		fmt.Printf("  Status:   %s\n", formatRunStatus(snap.Status))
		fmt.Printf("  Batches:  %d/%d done, %s failed\n", snap.BatchesDone, snap.TotalBatches, colorizeNonZero(snap.BatchesFailed, Red))
		if snap.ArtifactID != "" {
			fmt.Printf("  Artifact: %s\n", snap.ArtifactID)
		}
		if snap.ErrorDetail != "" {
			fmt.Printf("  Error:    %s\n", Red(snap.ErrorDetail))
		}
		return nil
	},
}

// runCancelCmd cancels a single run.
var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiClient.CancelRun(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to cancel run: %w", err)
		}
		Success(fmt.Sprintf("Cancelled run %s", args[0]))
		return nil
	},
}

// runCancelAllCmd cancels every in-flight run.
var runCancelAllCmd = &cobra.Command{
	Use:   "cancel-all",
	Short: "Cancel every in-flight run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiClient.CancelAll(ctx); err != nil {
			return fmt.Errorf("failed to cancel runs: %w", err)
		}
		Success("Cancelled all in-flight runs")
		return nil
	},
}

// runRerunBatchCmd resubmits one failed batch of a run.
var runRerunBatchCmd = &cobra.Command{
	Use:   "rerun-batch <run-id> <batch-number>",
	Short: "Rerun a single failed batch within a run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		num, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid batch number %q: %w", args[1], err)
		}

		if err := apiClient.RerunBatch(ctx, args[0], num); err != nil {
			return fmt.Errorf("failed to rerun batch: %w", err)
		}
		Success(fmt.Sprintf("Rerunning batch %d of run %s", num, args[0]))
		return nil
	},
}

// runWatchCmd streams a run's events to stdout.
var runWatchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Stream a run's events",
	Long:  `Stream a run's events as they happen, starting from an optional cursor.`,
	Example: `  # Watch a run until it finishes
  harnessctl run watch run-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cursor, _ := cmd.Flags().GetUint64("cursor")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		return apiClient.Subscribe(ctx, args[0], cursor, func(ev Event) error {
			if outputFormat == "json" {
				return printJSON(ev)
			}
			fmt.Printf("[%d] %s\n", ev.Seq, ev.Kind)
			return nil
		})
	},
}

// formatRunStatus colorizes a run status string.
func formatRunStatus(status string) string {
	switch strings.ToLower(status) {
	case "completed", "done", "succeeded", "healthy":
		return Green(status)
	case "failed", "error", "unhealthy":
		return Red(status)
	case "running", "in_progress", "degraded":
		return Yellow(status)
	default:
		return status
	}
}

// colorizeNonZero colorizes n with fn when non-zero, otherwise prints it
// undecorated.
func colorizeNonZero(n int, fn func(string) string) string {
	s := fmt.Sprintf("%d", n)
	if n == 0 {
		return s
	}
	return fn(s)
}

func init() {
	runSubmitCmd.Flags().String("model", "", "model identifier to benchmark")
	runSubmitCmd.Flags().String("variant", "", "documentation variant name")
	runSubmitCmd.Flags().Float64("temperature", 0, "sampling temperature")
	runSubmitCmd.Flags().Int("batch-size", 0, "uniform batch size (mutually exclusive with --batch-sizes)")
	runSubmitCmd.Flags().String("batch-sizes", "", "comma-separated explicit batch sizes")
	runSubmitCmd.Flags().String("suite-filter", "", "comma-separated category names to restrict the suite to")
	runSubmitCmd.Flags().Int("queue-size", 1, "number of run IDs to mint for this submission (1-20)")

	runWatchCmd.Flags().Uint64("cursor", 0, "event sequence number to resume from")

	runCmd.AddCommand(runSubmitCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runCancelAllCmd)
	runCmd.AddCommand(runRerunBatchCmd)
	runCmd.AddCommand(runWatchCmd)
}
