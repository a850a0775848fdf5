// Command render converts one slide deck or PDF into page images and prints
// their paths, one per line.
//
//	render lesson.pptx --out ./pages
//	render list --library ./GregorELibrary --grade 11 --quarter 1 --subject "Earth Science" --week 3
package main

import (
	"context"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/drummonds/elibrary/internal/build"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := newRenderCmd()
	root.Version = build.Version
	root.SilenceUsage = true
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// same settings files as the server, missing files are fine
		_ = godotenv.Load(".env")
		_ = godotenv.Load("config.env")

		level := charmlog.InfoLevel
		if verbose {
			level = charmlog.DebugLevel
		}
		logger := newLogger(cmd.ErrOrStderr(), level)
		injectGlobals(logger)
		cmd.SetContext(withLogger(cmd.Context(), logger))
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newListCmd())
	return root
}
