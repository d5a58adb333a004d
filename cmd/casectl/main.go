package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/app"
	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	institutionID int64
	dryRun        bool
	verbose       bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "casectl",
		Short:        "Operate case merging and assignment queues",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(c.mergeCmd())
	root.AddCommand(c.queueCmd())
	root.AddCommand(c.workerCmd())
	return root
}

func (c *cli) mergeCmd() *cobra.Command {
	merge := &cobra.Command{Use: "merge", Short: "Find and merge duplicate cases"}

	preview := &cobra.Command{
		Use:   "preview",
		Short: "List duplicate groups without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				out, err := ct.Merges.Preview(ctx, c.institutionID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	c.institutionFlag(preview)

	run := &cobra.Command{
		Use:   "run",
		Short: "Merge every duplicate group of an institution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				out, err := ct.Merges.Execute(ctx, c.institutionID, c.dryRun)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	c.institutionFlag(run)
	run.Flags().BoolVar(&c.dryRun, "dry-run", false, "report what would change")

	merge.AddCommand(preview, run)
	return merge
}

func (c *cli) queueCmd() *cobra.Command {
	queue := &cobra.Command{Use: "queue", Short: "Inspect and drain assignment queues"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show operators in pick order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				out, err := ct.Queue.Stats(ctx, c.institutionID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	c.institutionFlag(stats)

	assign := &cobra.Command{
		Use:   "auto-assign",
		Short: "Assign one batch of unassigned cases round robin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				out, err := ct.Assignments.AutoAssign(ctx, c.institutionID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	c.institutionFlag(assign)

	queue.AddCommand(stats, assign)
	return queue
}

func (c *cli) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the periodic merge and auto-assign loops until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				if !ct.Scheduler.Enabled() {
					return fmt.Errorf("no worker interval configured; set MERGE_WORKER_INTERVAL_SECONDS or QUEUE_WORKER_INTERVAL_SECONDS")
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return ct.Scheduler.Run(ctx)
			})
		},
	}
}

func (c *cli) institutionFlag(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&c.institutionID, "institution", "i", 0, "institution id")
	_ = cmd.MarkFlagRequired("institution")
}

func (c *cli) withContainer(cmd *cobra.Command, fn func(context.Context, *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if c.verbose {
		logger, err = observability.NewLogger(cfg.App, cfg.Logger)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ct, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ct.Close()
	return fn(ctx, ct)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
