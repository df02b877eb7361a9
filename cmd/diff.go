package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/model"
)

var diffSave bool

var diffCmd = &cobra.Command{
	Use:   "diff [file] [new-content]",
	Short: "Show the structural delta of replacing a file's text",
	Long: `Opens file, replaces its text with the contents of new-content and
prints the structural delta between the two versions. The file on disk is
left alone unless --save is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read new content: %w", err)
		}
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		file, err := s.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		if file.Kind() != model.KindFile {
			return fmt.Errorf("%s is not a source file", args[0])
		}
		// Opening the whole file first makes the delta cover every member.
		if _, err := s.ws.Outline(ctx, file, -1); err != nil {
			return err
		}
		d, err := s.ws.Edit(ctx, file, content)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if d.Empty() {
			_, err = fmt.Fprintln(out, "no structural change")
		} else {
			_, err = fmt.Fprint(out, d.String())
		}
		if err != nil || !diffSave {
			return err
		}
		_, err = s.ws.Save(ctx, file)
		return err
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffSave, "save", false, "Write the new content to the file")
	rootCmd.AddCommand(diffCmd)
}
