package writeback

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	sqllang "github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ValidationError locates one syntax error in a buffer.
type ValidationError struct {
	FilePath string
	Line     uint32 // 0-indexed
	Column   uint32 // 0-indexed
	Offset   uint32
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line+1, e.Column+1, e.Message)
}

// Validate returns the first syntax error in content, or nil. Content in a
// language without a grammar passes.
func Validate(ctx context.Context, content []byte, filePath string) error {
	errs, err := scan(ctx, content, filePath, true)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return &errs[0]
}

// ASTErrors lists every syntax error in content. It returns nil for clean
// content, for unknown languages and when parsing fails outright.
func ASTErrors(ctx context.Context, content []byte, filePath string) []ValidationError {
	errs, _ := scan(ctx, content, filePath, false)
	return errs
}

// Supported reports whether filePath has a grammar.
func Supported(filePath string) bool {
	return languageForPath(filePath) != nil
}

func scan(ctx context.Context, content []byte, filePath string, firstOnly bool) ([]ValidationError, error) {
	lang := languageForPath(filePath)
	if lang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed for %s: %w", filePath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root for %s", filePath)
	}
	if !root.HasError() {
		return nil, nil
	}

	var errs []ValidationError
	collect(root, content, filePath, firstOnly, &errs)
	if len(errs) == 0 {
		errs = append(errs, ValidationError{FilePath: filePath, Message: "AST contains errors"})
	}
	return errs, nil
}

// collect walks only into subtrees that contain errors and stops at the
// first ERROR or MISSING node of each.
func collect(node *sitter.Node, content []byte, filePath string, firstOnly bool, errs *[]ValidationError) {
	if firstOnly && len(*errs) > 0 {
		return
	}
	if node.IsError() || node.IsMissing() {
		*errs = append(*errs, ValidationError{
			FilePath: filePath,
			Line:     node.StartPoint().Row,
			Column:   node.StartPoint().Column,
			Offset:   node.StartByte(),
			Message:  describe(node, content),
		})
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			collect(child, content, filePath, firstOnly, errs)
		}
	}
}

func describe(node *sitter.Node, content []byte) string {
	if node.IsMissing() {
		return "missing " + node.Type()
	}
	text := strings.TrimSpace(node.Content(content))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	if text == "" {
		return "syntax error"
	}
	return fmt.Sprintf("syntax error near %q", text)
}

func languageForPath(filePath string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		return golang.GetLanguage()
	case ".py", ".pyi":
		return python.GetLanguage()
	case ".js", ".mjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	case ".sql":
		return sqllang.GetLanguage()
	}
	return nil
}
