// Package cmd defines and implements the CLI commands for the uplens executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
)

// newRunCmd creates and configures the 'run' subcommand. It executes one
// crawl-and-classify pass for a task synchronously, outside the queue.
func newRunCmd() *cobra.Command {
	var (
		dryRun bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Executes one task synchronously",
		Long: `Runs the full collect, filter, classify and persist pass for the given
task and waits for it to finish. With --dry-run nothing is persisted and a
preview report is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCommand(cmd, args[0], dryRun, limit)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the pass without persisting anything")
	cmd.Flags().IntVar(&limit, "limit", 10, "max preview samples in dry-run output")
	return cmd
}

func runTaskCommand(cmd *cobra.Command, taskID string, dryRun bool, limit int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	task, err := appInstance.store.GetTask(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}

	if dryRun {
		report := appInstance.runner.DryRun(cmd.Context(), &task, limit)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	run, err := appInstance.runner.Run(cmd.Context(), &task, core.TriggerManual)
	if err != nil {
		return fmt.Errorf("run task %s: %w", taskID, err)
	}

	appInstance.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("fetched", run.Counts.Fetched),
		zap.Int("inserted", run.Counts.Inserted),
		zap.Int("failed_items", run.Counts.FailedItems),
	)
	if run.Status == core.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.ErrorSummary)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app, error) {
	appInstance, ok := ctx.Value(appKey).(*app)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
