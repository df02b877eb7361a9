package ingest

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// DetectLanguageFromExt returns the language name and tree-sitter Language
// for a given file extension. Returns ok=false for unsupported extensions.
func DetectLanguageFromExt(ext string) (langName string, lang *sitter.Language, ok bool) {
	switch ext {
	case ".go":
		return "go", golang.GetLanguage(), true
	case ".py", ".pyi":
		return "python", python.GetLanguage(), true
	default:
		return "", nil, false
	}
}

// languageByName is the inverse lookup used by producers built from a name.
func languageByName(name string) *sitter.Language {
	switch name {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	default:
		return nil
	}
}
