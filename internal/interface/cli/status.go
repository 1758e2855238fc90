package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [workflow...]",
		Short: "Show the latest status of workflows",
		Long: `Show the latest published status snapshot of each workflow. Without
arguments every workflow known to the status sink is shown. Workflows that
never published fall back to the persisted cycle state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := newContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			snaps, err := collectSnapshots(ctx, container.GetStatusGateway(), container.GetStateRepository(), args)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeSnapshotsJSON(cmd.OutOrStdout(), snaps)
			}
			writeSnapshotsText(cmd.OutOrStdout(), snaps)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print snapshots as JSON")
	return cmd
}

// collectSnapshots resolves the snapshot of each named workflow, or of every
// workflow the sink knows when names is empty
func collectSnapshots(ctx context.Context, sink output.StatusGateway, states repository.CycleStateRepository, names []string) ([]cycle.Snapshot, error) {
	if len(names) == 0 {
		listed, err := sink.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list status: %w", err)
		}
		names = listed
		sort.Strings(names)
	}

	snaps := make([]cycle.Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := sink.Latest(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("read status of %s: %w", name, err)
		}
		if snap != nil {
			snaps = append(snaps, *snap)
			continue
		}

		st, err := states.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if st != nil {
			snaps = append(snaps, st.Snapshot())
		} else {
			snaps = append(snaps, cycle.NotInitializedSnapshot(name))
		}
	}
	return snaps, nil
}

func writeSnapshotsJSON(w io.Writer, snaps []cycle.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(snaps) == 1 {
		return enc.Encode(snaps[0])
	}
	return enc.Encode(snaps)
}

func writeSnapshotsText(w io.Writer, snaps []cycle.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No workflow status published yet")
		return
	}
	for _, s := range snaps {
		fmt.Fprintf(w, "%s [%s]\n", s.Name, strings.ToUpper(string(s.State)))
		if s.State == cycle.RunStateNotInitialized {
			continue
		}
		fmt.Fprintf(w, "  Cycle:    %d (completed: %d)\n", s.CurrentCycle, s.TotalCycles)
		fmt.Fprintf(w, "  Progress: %.1f%% (step %d/%d)\n", s.Progress, s.StepIndex, s.TotalSteps)
		if s.CurrentStep != nil {
			fmt.Fprintf(w, "  Current:  %s (%s)\n", s.CurrentStep.Name, s.CurrentStep.NodeID)
		}
		if s.NextStep != nil {
			fmt.Fprintf(w, "  Next:     %s\n", s.NextStep.Name)
		}
		if s.PauseReason != "" {
			fmt.Fprintf(w, "  Paused:   %s\n", s.PauseReason)
		}
		if s.NextCycleScheduled != nil {
			fmt.Fprintf(w, "  Resumes:  %s\n", s.NextCycleScheduled.UTC().Format("2006-01-02 15:04:05 MST"))
		}
		if s.StopReason != "" {
			fmt.Fprintf(w, "  Stopped:  %s\n", s.StopReason)
		}
	}
}
