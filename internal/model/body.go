package model

import (
	"slices"

	"github.com/agentic-research/skein/api"
)

// Body is the cached structural payload of an open element. Bodies are owned
// by the body store; a build replaces a body wholly and never edits the one
// already registered.
type Body struct {
	Children []Handle

	Modifiers  api.Modifiers
	TypeName   string
	Signature  string
	SuperTypes []string
	NameRange  api.Range
	DeclRange  api.Range

	// Path is the backing storage key of an openable element.
	Path string
	// Language of a file or artifact ("go", "python", ...).
	Language string
	// Digest summarises the facts of this element and its subtree.
	Digest uint64
}

// Clone returns a deep copy safe to hand to callers outside the engine.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	c := *b
	c.Children = slices.Clone(b.Children)
	c.SuperTypes = slices.Clone(b.SuperTypes)
	return &c
}

// IndexOf returns the position of h among the children, or -1.
func (b *Body) IndexOf(h Handle) int {
	return slices.Index(b.Children, h)
}

// HasChild reports whether h is listed among the children.
func (b *Body) HasChild(h Handle) bool {
	return b.IndexOf(h) >= 0
}
