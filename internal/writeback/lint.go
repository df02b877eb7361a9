package writeback

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// Diagnostic is a lint finding in a buffer.
type Diagnostic struct {
	FilePath string
	Rule     string
	Line     uint32 // 0-indexed
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s (%s)", d.FilePath, d.Line+1, d.Message, d.Rule)
}

// lintRule flags the captures of query for which keep returns true.
type lintRule struct {
	name    string
	query   string
	message string
	keep    func(n *sitter.Node) bool
}

var goRules = []lintRule{
	{
		name: "nil-slice",
		query: `(var_declaration
			(var_spec
				name: (identifier)
				type: (slice_type)) @decl)`,
		message: "nil slice declaration; use make([]T, 0) if it is encoded as JSON",
		keep: func(n *sitter.Node) bool {
			return n.ChildByFieldName("value") == nil
		},
	},
	{
		name:    "empty-branch",
		query:   `(if_statement consequence: (block) @body)`,
		message: "empty if branch",
		keep: func(n *sitter.Node) bool {
			return n.NamedChildCount() == 0
		},
	},
}

// Lint runs the static checks for filePath's language over content. Only
// Go has rules; other languages return nil.
func Lint(ctx context.Context, content []byte, filePath string) ([]Diagnostic, error) {
	if !strings.EqualFold(filepath.Ext(filePath), ".go") {
		return nil, nil
	}
	lang := golang.GetLanguage()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed for %s: %w", filePath, err)
	}
	defer tree.Close()

	var diags []Diagnostic
	for _, r := range goRules {
		q, err := sitter.NewQuery([]byte(r.query), lang)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.name, err)
		}
		qc := sitter.NewQueryCursor()
		qc.Exec(q, tree.RootNode())
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			for _, c := range m.Captures {
				if r.keep(c.Node) {
					diags = append(diags, Diagnostic{
						FilePath: filePath,
						Rule:     r.name,
						Line:     c.Node.StartPoint().Row,
						Message:  r.message,
					})
				}
			}
		}
		qc.Close()
		q.Close()
	}
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Line < diags[j].Line })
	return diags, nil
}
