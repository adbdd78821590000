package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/model"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	Short:   "Show the template task × dimension status matrix",
	GroupID: "report",
	Args:    cobra.NoArgs,
	PreRunE: needsBackend,
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		full, _ := cmd.Flags().GetBool("full")
		ctx := cmdContext(cmd)

		if refresh || full {
			r, err := activeBackend.Report(ctx, refresh)
			if err != nil {
				return fmt.Errorf("getting report: %w", err)
			}
			if full {
				return printJSON(cmd.OutOrStdout(), r)
			}
		}
		m, err := activeBackend.Matrix(ctx)
		if err != nil {
			return fmt.Errorf("getting matrix: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), m)
		}
		renderMatrix(cmd.OutOrStdout(), m)
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:     "tree",
	Short:   "Show the template task hierarchy",
	GroupID: "report",
	Args:    cobra.NoArgs,
	PreRunE: needsBackend,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := activeBackend.Report(cmdContext(cmd), false)
		if err != nil {
			return fmt.Errorf("getting report: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r.TemplateTasks)
		}
		if r.TemplateDimension != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Template: %s\n\n", r.TemplateDimension)
		}
		renderTree(cmd.OutOrStdout(), r.TemplateTasks)
		if n := len(r.Fetch.Unresolved); n > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d tasks could not be resolved: %v\n", n, r.Fetch.Unresolved)
		}
		return nil
	},
}

var dimsCmd = &cobra.Command{
	Use:     "dims",
	Short:   "List dimensions with their status statistics",
	GroupID: "report",
	Args:    cobra.NoArgs,
	PreRunE: needsBackend,
	RunE: func(cmd *cobra.Command, args []string) error {
		dims, err := activeBackend.Dimensions(cmdContext(cmd))
		if err != nil {
			return fmt.Errorf("listing dimensions: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), dims)
		}
		if len(dims) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no dimensions")
			return nil
		}
		renderDimensions(cmd.OutOrStdout(), dims)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <task-id>",
	Short:   "Show the per-dimension status of one task",
	GroupID: "report",
	Args:    cobra.ExactArgs(1),
	PreRunE: needsBackend,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		ts, err := activeBackend.TaskStatuses(cmdContext(cmd), id)
		if err != nil {
			return fmt.Errorf("getting task %d: %w", id, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ts)
		}
		renderTaskStatuses(cmd.OutOrStdout(), ts)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "List recorded report runs (server only)",
	GroupID: "report",
	Args:    cobra.NoArgs,
	PreRunE: needsBackend,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := activeBackend.History(cmdContext(cmd), limit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if jsonOutput {
			if runs == nil {
				runs = []*model.ReportRun{}
			}
			return printJSON(cmd.OutOrStdout(), runs)
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	Short:   "Start a background recomputation on the server",
	GroupID: "report",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := resolveRemote()
		if r.Server == "" {
			return fmt.Errorf("refresh needs an opr server (--server or OPREPORT_SERVER)")
		}
		runID, err := client.NewServerClient(r.Server, r.ServerToken).Refresh(cmdContext(cmd))
		if err != nil {
			return fmt.Errorf("starting refresh: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"run_id": runID})
		}
		fmt.Fprintln(cmd.OutOrStdout(), runID)
		if follow, _ := cmd.Flags().GetBool("watch"); follow {
			return watchRun(cmd, r.NATSURL, runID)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("refresh", false, "recompute instead of using the cached report")
	reportCmd.Flags().Bool("full", false, "print the complete aggregate report as JSON")
	historyCmd.Flags().Int("limit", 20, "maximum number of runs")
	refreshCmd.Flags().Bool("watch", false, "follow the run's progress over NATS")
}
