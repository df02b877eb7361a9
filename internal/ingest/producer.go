package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentic-research/skein/api"
)

// Producer extracts declaration facts from the content of one file.
// Implementations must be safe for concurrent use.
type Producer interface {
	Facts(ctx context.Context, path string, content []byte) ([]api.Fact, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, path string, content []byte) ([]api.Fact, error)

// Facts implements Producer.
func (f ProducerFunc) Facts(ctx context.Context, path string, content []byte) ([]api.Fact, error) {
	return f(ctx, path, content)
}

// ArchiveExt is the file extension of fact archives.
const ArchiveExt = ".facts"

// Registry routes files to producers by extension.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
	languages map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[string]Producer),
		languages: make(map[string]string),
	}
}

// DefaultRegistry routes Go and Python sources through tree-sitter and
// fact archives through the archive reader.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, ext := range []string{".go", ".py"} {
		name, _, _ := DetectLanguageFromExt(ext)
		r.Register(ext, name, NewSitterProducer(name))
	}
	r.Register(ArchiveExt, "facts", ArchiveProducer{})
	return r
}

// Register binds ext (with leading dot) to p. lang names the language
// recorded on files with that extension.
func (r *Registry) Register(ext, lang string, p Producer) {
	ext = strings.ToLower(ext)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[ext] = p
	r.languages[ext] = lang
}

// For returns the producer for path.
func (r *Registry) For(path string) (Producer, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[ext]
	return p, ok
}

// Language returns the language registered for path's extension.
func (r *Registry) Language(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.languages[ext]
}

// Supported reports whether name has a registered producer.
func (r *Registry) Supported(name string) bool {
	_, ok := r.For(name)
	return ok
}

// IsArchive reports whether name is a fact archive.
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ArchiveExt)
}
