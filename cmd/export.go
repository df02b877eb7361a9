package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/ingest"
)

var exportCmd = &cobra.Command{
	Use:   "export [source] [output.facts]",
	Short: "Write the facts of a source file to a fact archive",
	Long: `Parses source and stores its facts in a SQLite fact archive. Placed in
a project, the archive opens as a read-only artifact. The output defaults to
the source path with its extension replaced by ` + ingest.ArchiveExt + `.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		output := strings.TrimSuffix(source, filepath.Ext(source)) + ingest.ArchiveExt
		if len(args) == 2 {
			output = args[1]
		}
		if !ingest.IsArchive(output) {
			return fmt.Errorf("output %s must end in %s", output, ingest.ArchiveExt)
		}

		reg := ingest.DefaultRegistry()
		p, ok := reg.For(source)
		if !ok || ingest.IsArchive(source) {
			return fmt.Errorf("no fact producer for %s", source)
		}
		content, err := os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		facts, err := p.Facts(cmd.Context(), filepath.ToSlash(source), content)
		if err != nil {
			return err
		}

		_ = os.Remove(output) // Overwrite
		info := ingest.ArchiveInfo{Source: filepath.Base(source), Language: reg.Language(source)}
		if err := ingest.WriteArchive(output, info, facts); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d facts to %s\n", len(facts), output)
		return err
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
