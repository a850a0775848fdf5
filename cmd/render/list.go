package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drummonds/elibrary/library"
)

type listOpts struct {
	libraryPath string
	catalogFile string
	loc         library.Location
}

func newListCmd() *cobra.Command {
	var opts listOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the grades, subjects or files of the library",
		Long: `Without a grade list prints the grades. With a grade and quarter it prints the
subjects, and with a subject and week it prints the renderable files of that folder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.OutOrStdout(), &opts)
		},
	}

	cmd.Flags().StringVar(&opts.libraryPath, "library", "GregorELibrary", "library root folder")
	cmd.Flags().StringVar(&opts.catalogFile, "catalog", "", "YAML curriculum catalog (default: built in)")
	cmd.Flags().IntVar(&opts.loc.Grade, "grade", 0, "grade")
	cmd.Flags().IntVar(&opts.loc.Quarter, "quarter", 0, "quarter 1-4")
	cmd.Flags().StringVar(&opts.loc.Subject, "subject", "", "subject")
	cmd.Flags().IntVar(&opts.loc.Week, "week", 0, "week")

	return cmd
}

func runList(out io.Writer, opts *listOpts) error {
	catalog, err := library.LoadCatalog(opts.catalogFile)
	if err != nil {
		return err
	}
	lib := library.New(opts.libraryPath, catalog)
	loc := opts.loc

	switch {
	case loc.Grade == 0:
		for _, grade := range catalog.GradeNumbers() {
			fmt.Fprintf(out, "Grade %d\n", grade)
		}
		return nil
	case loc.Quarter == 0:
		for _, q := range catalog.Quarters() {
			fmt.Fprintf(out, "%d\t%s Quarter\n", q, library.QuarterNames[q-1])
		}
		return nil
	case loc.Subject == "":
		subjects, err := catalog.Subjects(loc.Grade, loc.Quarter)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, strings.Join(subjects, "\n"))
		return nil
	case loc.Week == 0:
		for _, week := range catalog.WeekNumbers() {
			fmt.Fprintf(out, "Week %d\n", week)
		}
		return nil
	}

	files, err := lib.ListFiles(loc)
	if err != nil {
		return err
	}
	dir := loc.Dir(lib.Base)
	fmt.Fprintln(out, library.ShortTitle(loc.Title(), 80))
	if !fileExists(dir) {
		fmt.Fprintf(out, "(no folder %s)\n", dir)
		return nil
	}
	for _, file := range files {
		fmt.Fprintln(out, filepath.Join(dir, file))
	}
	return nil
}
