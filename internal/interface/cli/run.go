package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/quotacycle/internal/workflow"
)

// setupSignalHandler cancels the returned context on SIGINT or SIGTERM
func setupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		os.Interrupt,    // Ctrl+C (SIGINT)
		syscall.SIGTERM, // kill command
	)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			appLogger.Info("Received signal: %v, initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func newRunCmd() *cobra.Command {
	var workflowFiles []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workflows until stopped",
		Long: `Run every configured workflow. Each workflow resumes from its persisted
position, pauses when the provider quota is exhausted and continues once the
quota window rolls over. Stop with Ctrl+C; the next run resumes mid-cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			GetLogger().SetTimestamps(true)
			ctx, cancel := setupSignalHandler(cmd.Context())
			defer cancel()

			container, err := newContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			var defs []*workflow.Definition
			if len(workflowFiles) > 0 {
				for _, path := range workflowFiles {
					def, err := workflow.LoadWorkflow(ctx, path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					defs = append(defs, def)
				}
			} else {
				defs, err = container.LoadDefinitions()
				if err != nil {
					return err
				}
			}

			for _, def := range defs {
				if err := container.RegisterWorkflow(def); err != nil {
					return err
				}
			}

			err = container.Run(ctx)
			container.GetManager().PrintStats()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&workflowFiles, "workflow", "w", nil, "workflow definition file (repeatable; default: configured workflows)")
	return cmd
}
