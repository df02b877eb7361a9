package ingest

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/agentic-research/skein/api"
)

// extractor turns a parsed syntax tree into facts.
type extractor func(root *sitter.Node, src []byte) []api.Fact

// SitterProducer parses source with tree-sitter and extracts declarations.
// Syntax errors do not fail extraction: tree-sitter recovers and whatever
// declarations survive are reported.
type SitterProducer struct {
	lang    string
	grammar *sitter.Language
	extract extractor
}

// NewSitterProducer returns a producer for "go" or "python". It panics on
// any other language since the set is fixed at compile time.
func NewSitterProducer(lang string) *SitterProducer {
	p := &SitterProducer{lang: lang, grammar: languageByName(lang)}
	switch lang {
	case "go":
		p.extract = extractGo
	case "python":
		p.extract = extractPython
	default:
		panic(fmt.Sprintf("ingest: no extractor for language %q", lang))
	}
	return p
}

// Language returns the language this producer parses.
func (p *SitterProducer) Language() string { return p.lang }

// Facts implements Producer.
func (p *SitterProducer) Facts(ctx context.Context, path string, content []byte) ([]api.Fact, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no syntax tree", path)
	}
	return p.extract(root, content), nil
}

// text returns the source covered by n, or "" for a nil node.
func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if start > end || int(end) > len(src) {
		return ""
	}
	return string(src[start:end])
}

func nodeRange(n *sitter.Node) api.Range {
	if n == nil {
		return api.Range{}
	}
	return api.Range{Start: n.StartByte(), End: n.EndByte()}
}

// namedChildren returns the named children of n in order.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// fieldChildren returns every child of n attached under field.
func fieldChildren(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if n.FieldNameForChild(i) == field {
			if c := n.Child(i); c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

// squash collapses runs of whitespace so multi-line signatures compare
// stably.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
