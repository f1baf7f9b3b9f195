package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// healthCmd reports the control plane's aggregate health.
var healthCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Show the control plane's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		report, err := apiClient.Healthz(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch health: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(report)
		}

		fmt.Printf("%s: %s\n", Bold("Status"), formatRunStatus(report.Status))
		if len(report.Checks) == 0 {
			return nil
		}
		headers := []string{"CHECK", "STATUS", "MESSAGE"}
		rows := make([][]string, len(report.Checks))
		for i, c := range report.Checks {
			rows[i] = []string{c.Name, formatRunStatus(c.Status), c.Message}
		}
		printTable(headers, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(artifactCmd)
}
