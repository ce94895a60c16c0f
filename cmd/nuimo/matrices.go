package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var matricesCmd = &cobra.Command{
	Use:   "matrices [name...]",
	Short: "List the LED matrix library",
	Long: `List the names of the built-in matrices and those of the configured library
file. With --show, or when names are given, the drawings are printed too.`,
	RunE: runMatrices,
}

var matricesShow bool

func init() {
	addMatricesFlags(matricesCmd)
}

func addMatricesFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&matricesShow, "show", false, "Print the drawing of every matrix")
}

func runMatrices(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	library, err := cfg.NewMatrixLibrary(logger)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = library.Names()
	}
	for _, name := range names {
		if _, ok := library.Bitmap(name); !ok {
			return fmt.Errorf("unknown matrix %q", name)
		}
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	if !matricesShow && len(args) == 0 {
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	for i, name := range names {
		bitmap, _ := library.Bitmap(name)
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s:\n", name)
		for _, row := range strings.Split(bitmap.String(), "\n") {
			fmt.Fprintf(out, "  %s\n", row)
		}
	}
	return nil
}
