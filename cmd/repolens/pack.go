package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repolens/internal/repoctx"
	"repolens/internal/scan"
)

type packOptions struct {
	maxChars    int
	maxFileSize int64
	maxFiles    int
}

func newPackCmd(g *globalFlags) *cobra.Command {
	o := &packOptions{}
	cmd := &cobra.Command{
		Use:   "pack <dir>",
		Short: "Print the context block built from a directory",
		Long: `Scan a directory, rank and clean its files and print the context block that
would be sent to a model. A summary of included and omitted files goes to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, g, o, args[0])
		},
	}
	cmd.Flags().IntVar(&o.maxChars, "max-chars", repoctx.DefaultMaxChars, "Context budget in characters")
	cmd.Flags().Int64Var(&o.maxFileSize, "max-file-size", scan.DefaultMaxFileSize, "Skip files larger than this many bytes")
	cmd.Flags().IntVar(&o.maxFiles, "max-files", scan.DefaultMaxFiles, "Stop after this many files")
	return cmd
}

func runPack(cmd *cobra.Command, g *globalFlags, o *packOptions, dir string) error {
	logger := g.logger(cmd)
	files, err := scan.LoadDir(cmd.Context(), dir, scan.Options{
		MaxFileSize: o.maxFileSize,
		MaxFiles:    o.maxFiles,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	sel := repoctx.NewBuilder(o.maxChars, repoctx.WithLogger(logger)).Build(files)
	fmt.Fprint(cmd.OutOrStdout(), sel.String())
	fmt.Fprintf(cmd.ErrOrStderr(), "included %d of %d files (%d/%d chars)\n",
		len(sel.Included), len(files), sel.UsedChars, sel.MaxChars)
	return nil
}
