package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/writeback"
)

var checkLint bool

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Report syntax errors, and with --lint style problems, in source files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		problems := 0
		for _, path := range args {
			if !writeback.Supported(path) {
				_, _ = fmt.Fprintf(out, "%s: no grammar, skipped\n", path)
				continue
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			for _, e := range writeback.ASTErrors(cmd.Context(), content, path) {
				_, _ = fmt.Fprintln(out, e.Error())
				problems++
			}
			if !checkLint {
				continue
			}
			diags, err := writeback.Lint(cmd.Context(), content, path)
			if err != nil {
				return err
			}
			for _, d := range diags {
				_, _ = fmt.Fprintln(out, d.String())
				problems++
			}
		}
		if problems > 0 {
			return fmt.Errorf("%d problem(s)", problems)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkLint, "lint", false, "Also run the lint rules")
	rootCmd.AddCommand(checkCmd)
}
