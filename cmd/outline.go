package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/workspace"
)

var (
	outlineDepth  int
	outlineSelect string
	outlineJSON   bool
)

var outlineCmd = &cobra.Command{
	Use:   "outline [path]",
	Short: "Print the structure of a project, directory or file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		h, err := s.resolve(ctx, target)
		if err != nil {
			return err
		}
		n, err := s.ws.Outline(ctx, h, outlineDepth)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outlineSelect == "" && !outlineJSON {
			printOutline(out, n, 0)
			return nil
		}
		data, err := outlineData(n)
		if err != nil {
			return err
		}
		if outlineSelect != "" {
			x, err := jp.ParseString(outlineSelect)
			if err != nil {
				return fmt.Errorf("parse selector %q: %w", outlineSelect, err)
			}
			data = x.Get(data)
		}
		_, err = fmt.Fprintln(out, oj.JSON(data, 2))
		return err
	},
}

// outlineData converts an outline into generic JSON values for JSONPath.
func outlineData(n *workspace.Node) (any, error) {
	raw, err := oj.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	return oj.Parse(raw)
}

func printOutline(w io.Writer, n *workspace.Node, indent int) {
	line := strings.Repeat("  ", indent) + n.Kind + " " + n.Name
	if n.Kind == "package" && n.Name == "" {
		line = strings.Repeat("  ", indent) + "package ."
	}
	if n.Signature != "" {
		line += " " + n.Signature
	} else if n.TypeName != "" {
		line += " " + n.TypeName
	}
	if n.Modifiers != "" {
		line += " [" + n.Modifiers + "]"
	}
	_, _ = fmt.Fprintln(w, line)
	for _, c := range n.Children {
		printOutline(w, c, indent+1)
	}
}

func init() {
	outlineCmd.Flags().IntVarP(&outlineDepth, "depth", "d", 2, "Levels below the target to open; negative for no limit")
	outlineCmd.Flags().StringVar(&outlineSelect, "select", "", "JSONPath applied to the outline, e.g. '$..children[?(@.kind == \"func\")].name'")
	outlineCmd.Flags().BoolVar(&outlineJSON, "json", false, "Print the outline as JSON")
	rootCmd.AddCommand(outlineCmd)
}
