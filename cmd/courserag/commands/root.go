// Package commands defines all Cobra CLI commands for the courserag binary.
package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/courserag-go/internal/audit"
	"github.com/54b3r/courserag-go/internal/config"
	"github.com/54b3r/courserag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "courserag",
		Short: "courserag answers questions about your course materials",
		Long: `courserag indexes course documents into a semantic index and answers
questions about them with an LLM that can search the course content and
look up course outlines.

Settings come from the process environment, a .env file in the working
directory, and a YAML config file (~/.courserag/config.yaml), in that
order of precedence.
See 'courserag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first, then YAML: both leave already-set variables alone.
			if _, err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from either file.
			log = logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.courserag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultDotEnv, "Path to a .env file")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}

// audited wraps a RunE so the command's result is recorded in the audit log.
func audited(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		err := run(cmd, args)
		audit.LogCommandEnd(cmd.Context(), logging.FromContext(cmd.Context()), cmd.Name(), started, err)
		return err
	}
}
