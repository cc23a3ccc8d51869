package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallbiznis/nfsync/internal/ingestion"
	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func runOnceCmd() *cobra.Command {
	var failOnFileError bool

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Drain the source directory once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sched *ingestion.Scheduler
			app := fx.New(
				coreModules(),
				fx.NopLogger,
				fx.Populate(&sched),
			)
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() {
				_ = app.Stop(context.WithoutCancel(ctx))
			}()

			summary, err := sched.RunOnce(obscontext.WithTrigger(ctx, ingestion.TriggerCLI))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if failOnFileError && summary.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Listed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnFileError, "fail-on-file-error", false, "exit non-zero when any file lands in the error directory")
	return cmd
}
