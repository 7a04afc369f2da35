package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"repolens/internal/logging"
)

type globalFlags struct {
	verbose   int
	quiet     bool
	logFormat string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "repolens",
		Short: "Pack repositories into LLM context and analyze them",
		Long: `repolens ranks and cleans the files of a repository, packs the most useful
ones into a bounded context block and asks a chain of language models about it,
falling back to the next model when one fails or returns nothing.

Examples:
  repolens pack . --max-chars 200000
  repolens analyze . --prompt "Describe the architecture"
  repolens analyze --repo https://github.com/acme/api --structured`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "Suppress all logs")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(newPackCmd(g), newAnalyzeCmd(g))
	return root
}

// logger writes to the command's stderr so stdout stays machine readable.
func (g *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	return logging.NewAtLevel(cmd.ErrOrStderr(), g.logFormat, logging.LevelFromVerbosity(g.verbose, g.quiet))
}
