package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/quotacycle/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow definitions",
	}
	cmd.AddCommand(newWorkflowValidateCmd())
	return cmd
}

func newWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				def, err := workflow.LoadWorkflow(cmd.Context(), path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					continue
				}

				w := def.Workflow()
				limit := "unbounded"
				if w.MaxCycles != nil {
					limit = fmt.Sprintf("max %d cycles", *w.MaxCycles)
				}
				fmt.Fprintf(out, "✓ %s: %s, %d steps, %s\n", path, w.Name, w.Len(), limit)
				for i, s := range w.Steps {
					var notes []string
					if s.Skipped {
						notes = append(notes, "skip")
					}
					if s.ParallelGroup != "" {
						notes = append(notes, "group "+s.ParallelGroup)
					}
					if cmdline, ok := def.Commands()[s.StepID]; ok {
						notes = append(notes, "command "+strings.Join(cmdline, " "))
					}
					fmt.Fprintf(out, "  %s  %s", w.NodeID(i), s.DisplayName())
					if len(notes) > 0 {
						fmt.Fprintf(out, " (%s)", strings.Join(notes, ", "))
					}
					fmt.Fprintln(out)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflow files invalid", failed, len(args))
			}
			return nil
		},
	}
}
