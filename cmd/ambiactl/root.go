package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ambia/internal/config"
	"ambia/internal/engine"
	"ambia/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type cli struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "ambiactl",
		Short:         "Run Ambia engine cycles from the terminal",
		Long:          "ambiactl runs one think, generation, pregeneration, maintenance or insight scan pass against the same database the server uses, and prints the result as JSON.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; the environment may already be set
			_ = godotenv.Load()
			logging.Init()

			c.cfg = config.Load()
			return c.cfg.Validate()
		},
	}

	rootCmd.AddCommand(
		newThinkCmd(c),
		newGenerateCmd(c),
		newRecordCmd(c),
		newPregenerateCmd(c),
		newMaintainCmd(c),
		newScanCmd(c),
		newMigrateCmd(c),
	)

	return rootCmd
}

// withEngine builds the engine for one command and closes it afterwards
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := engine.New(ctx, c.cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	return fn(ctx, e)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func joinQuery(args []string) string {
	return strings.Join(args, " ")
}
