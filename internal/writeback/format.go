package writeback

import (
	"strings"

	"mvdan.cc/gofumpt/format"
)

// FormatGoBuffer runs gofumpt over Go source. Content of other languages,
// and Go that does not parse, comes back unchanged. modulePath may be empty;
// when set gofumpt groups the project's own imports separately.
func FormatGoBuffer(content []byte, filePath, modulePath string) []byte {
	if !strings.HasSuffix(filePath, ".go") {
		return content
	}
	formatted, err := format.Source(content, format.Options{ModulePath: modulePath})
	if err != nil {
		return content
	}
	return formatted
}

// Formatter returns a save hook with the signature the lifecycle controller
// expects.
func Formatter(modulePath string) func(path string, content []byte) []byte {
	return func(path string, content []byte) []byte {
		return FormatGoBuffer(content, path, modulePath)
	}
}
