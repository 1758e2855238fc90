package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	infraConfig "github.com/YoshitsuguKoike/quotacycle/internal/infra/config"
)

const sampleWorkflow = `name: daily
# max_cycles: 7
steps:
  - id: sync
    name: Sync provider data
    command: ["./jobs/sync.sh", "{workflow}"]
  - id: analyze
    name: Analyze
    skip: true
  - id: report
    name: Report
    command: ["./jobs/report.sh"]
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create setting.json and a sample workflow in the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := globalConfig.Home()
			files := []struct {
				path string
				data []byte
			}{
				{filepath.Join(home, "setting.json"), infraConfig.CreateDefaultSettings()},
				{filepath.Join(home, "workflows", "daily.yaml"), []byte(sampleWorkflow)},
			}
			for _, f := range files {
				if _, err := os.Stat(f.path); err == nil && !force {
					fmt.Fprintf(cmd.OutOrStdout(), "skip %s (exists)\n", f.path)
					continue
				}
				if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", f.path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
