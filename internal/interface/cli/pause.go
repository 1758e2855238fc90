package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/quotacycle/internal/application/service"
)

func newPauseCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause <workflow>",
		Short: "Pause a workflow before its next step",
		Long: `Set a manual pause on a workflow. A running process picks it up before
its next step or on its next poll. Only resume clears a manual pause.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			st, err := service.NewOperatorControl(container.GetStateRepository()).Pause(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s paused at cycle %d, step %d: %s\n", st.Name, st.CurrentCycle, st.CurrentStepIndex, st.PauseReason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason shown in status")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <workflow>",
		Short: "Resume a paused workflow",
		Long:  "Clear a manual or quota pause. A running process continues on its next poll.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			st, err := service.NewOperatorControl(container.GetStateRepository()).Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s resumed at cycle %d, step %d\n", st.Name, st.CurrentCycle, st.CurrentStepIndex)
			return nil
		},
	}
}
