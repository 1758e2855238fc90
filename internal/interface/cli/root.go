package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/quotacycle/internal/infra/config"
	"github.com/YoshitsuguKoike/quotacycle/internal/interface/cli/version"
)

// defaultHome is used when neither --home nor QC_HOME is set
const defaultHome = ".quotacycle"

// globalConfig holds the loaded configuration for all commands
var globalConfig config.Config

// appLogger is the app-layer view of the CLI logger
var appLogger app.Logger = app.NopLogger()

func NewRoot() *cobra.Command {
	var home string

	cmd := &cobra.Command{
		Use:           "quotacycle",
		Short:         "Resumable cycle orchestrator for quota-limited data providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: environment > setting.json > defaults
			baseDir := home
			if baseDir == "" {
				baseDir = os.Getenv("QC_HOME")
			}
			if baseDir == "" {
				baseDir = defaultHome
			}

			cfg, err := infraConfig.LoadSettings(baseDir)
			if err != nil {
				return err
			}
			globalConfig = cfg

			InitGlobalLogger(cfg.StderrLevel())
			appLogger = InitializeLoggers(GetLogger())
			if _, err := ParseLogLevel(cfg.StderrLevel()); err != nil {
				appLogger.Warn("stderr_level: %v, using info", err)
			}
			appLogger.Debug("configuration loaded from %s (%s)", cfg.ConfigSource(), baseDir)
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&home, "home", "", "base directory for setting.json, state and status files (default $QC_HOME or .quotacycle)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(version.NewCommand())
	return cmd
}
