package main

import (
	"context"
	"fmt"

	"ambia/internal/database"
	"ambia/internal/engine"
	"ambia/internal/jobs"

	"github.com/spf13/cobra"
)

func newThinkCmd(c *cli) *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "think <user-id>",
		Short: "Decide what is worth preparing for a user right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if warm {
					report, err := e.Orch.ThinkAndWarm(ctx, args[0], nil)
					if err != nil {
						return err
					}
					return writeJSON(cmd, report)
				}

				decision, err := e.Orch.Think(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, decision)
			})
		},
	}

	cmd.Flags().BoolVar(&warm, "warm", false, "Generate the selected pages into the cache")

	return cmd
}

func newGenerateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <user-id> <query...>",
		Short: "Serve a page through the tiered cache",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				result, err := e.Orch.SmartGenerate(ctx, args[0], joinQuery(args[1:]), nil)
				if err != nil {
					return err
				}
				return writeJSON(cmd, result)
			})
		},
	}
}

func newRecordCmd(c *cli) *cobra.Command {
	var times int

	cmd := &cobra.Command{
		Use:   "record <user-id> <query...>",
		Short: "Append a query to a user's activity log",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if times <= 0 {
				return fmt.Errorf("--times must be positive")
			}
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				query := joinQuery(args[1:])
				for i := 0; i < times; i++ {
					if err := e.Orch.RecordActivity(ctx, args[0], query); err != nil {
						return err
					}
				}
				return writeJSON(cmd, map[string]any{"user_id": args[0], "query": query, "recorded": times})
			})
		},
	}

	cmd.Flags().IntVar(&times, "times", 1, "Number of times to record the query")

	return cmd
}

func newPregenerateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pregenerate [user-id]",
		Short: "Refresh frequent pages for one user, or every active user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if len(args) == 0 {
					if err := jobs.NewPregenerationJob(e.Orch).Run(ctx); err != nil {
						return err
					}
					return writeJSON(cmd, map[string]string{"status": "completed"})
				}

				results, err := e.Orch.PregenerateValuablePages(ctx, args[0], nil)
				if err != nil {
					return err
				}
				return writeJSON(cmd, results)
			})
		},
	}
}

func newMaintainCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Evict stale pages and purge finished queue rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				report, err := e.Orch.Maintain(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd, report)
			})
		},
	}
}

func newScanCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [user-id]",
		Short: "Turn upcoming calendar events into insights",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				var out any
				if len(args) == 0 {
					results, err := e.Insights.ScanAll(ctx)
					if err != nil {
						return err
					}
					out = results
				} else {
					result, err := e.Insights.Scan(ctx, args[0])
					if err != nil {
						return err
					}
					out = result
				}
				// Enrichments queued by the scan finish when the engine closes
				return writeJSON(cmd, out)
			})
		},
	}
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.New(c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Initialize(); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{"status": "migrated", "dialect": string(db.Dialect())})
		},
	}
}
