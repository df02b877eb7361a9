// Package delta computes structural change trees between a recorded
// snapshot of a model subtree and its current state.
package delta

import (
	"fmt"
	"strings"

	"github.com/agentic-research/skein/internal/model"
)

// Kind is the overall change of one element.
type Kind uint8

const (
	// Changed means the element survived; Flags tell what changed.
	Changed Kind = iota
	// Added means the element did not exist when the snapshot was taken.
	Added
	// Removed means the element existed in the snapshot and is gone now.
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Removed:
		return "REMOVED"
	}
	return "CHANGED"
}

func (k Kind) symbol() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	}
	return "*"
}

// Flags is the set of facets that changed on a surviving element.
type Flags uint16

const (
	// FlagContent marks a coarse change below the traversal depth limit.
	FlagContent Flags = 1 << iota
	// FlagChildren marks a node whose descendants carry changes.
	FlagChildren
	// FlagModifiers marks changed modifier bits.
	FlagModifiers
	// FlagSuperTypes marks a changed supertype list.
	FlagSuperTypes
	// FlagSignature marks a changed signature or declared type.
	FlagSignature
	// FlagReorder marks an element whose previous sibling is different.
	FlagReorder
)

var flagNames = []struct {
	bit  Flags
	name string
}{
	{FlagContent, "CONTENT"},
	{FlagChildren, "CHILDREN"},
	{FlagModifiers, "MODIFIERS"},
	{FlagSuperTypes, "SUPERTYPES"},
	{FlagSignature, "SIGNATURE"},
	{FlagReorder, "REORDER"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Delta is one node of a change tree. The root node is the handle the
// snapshot was recorded from; intermediate nodes exist only to lead to
// changed descendants and carry FlagChildren.
type Delta struct {
	Handle   model.Handle
	Kind     Kind
	Flags    Flags
	Children []*Delta
}

// Empty reports whether the tree records no change at all.
func (d *Delta) Empty() bool {
	return d == nil || (d.Kind == Changed && d.Flags == 0 && len(d.Children) == 0)
}

// Find returns the node for h, if the tree has one.
func (d *Delta) Find(h model.Handle) (*Delta, bool) {
	if d == nil {
		return nil, false
	}
	if d.Handle == h {
		return d, true
	}
	if !d.Handle.IsAncestorOf(h) {
		return nil, false
	}
	for _, c := range d.Children {
		if n, ok := c.Find(h); ok {
			return n, true
		}
	}
	return nil, false
}

// Walk visits every node depth first, parents before children. Returning
// false from fn skips the node's children.
func (d *Delta) Walk(fn func(*Delta) bool) {
	if d == nil || !fn(d) {
		return
	}
	for _, c := range d.Children {
		c.Walk(fn)
	}
}

func (d *Delta) collect(keep func(*Delta) bool) []model.Handle {
	var out []model.Handle
	d.Walk(func(n *Delta) bool {
		if keep(n) {
			out = append(out, n.Handle)
		}
		return true
	})
	return out
}

// Added lists the handles of ADDED nodes.
func (d *Delta) Added() []model.Handle {
	return d.collect(func(n *Delta) bool { return n.Kind == Added })
}

// Removed lists the handles of REMOVED nodes.
func (d *Delta) Removed() []model.Handle {
	return d.collect(func(n *Delta) bool { return n.Kind == Removed })
}

// Changed lists the handles of CHANGED nodes that carry a facet flag other
// than FlagChildren.
func (d *Delta) Changed() []model.Handle {
	return d.collect(func(n *Delta) bool { return n.Kind == Changed && n.Flags&^FlagChildren != 0 })
}

// String renders the tree one node per line, e.g.
//
//	p/svc/a.go[*]: {CHILDREN}
//	  p/svc/a.go/Run[+]: {}
func (d *Delta) String() string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	d.write(&sb, 0)
	return sb.String()
}

func (d *Delta) write(sb *strings.Builder, indent int) {
	fmt.Fprintf(sb, "%s%s[%s]: {%s}\n", strings.Repeat("  ", indent), d.Handle, d.Kind.symbol(), d.Flags)
	for _, c := range d.Children {
		c.write(sb, indent+1)
	}
}

// tree assembles a Delta from individual change records.
type tree struct {
	root  *Delta
	nodes map[model.Handle]*Delta
}

func newTree(root model.Handle) *tree {
	d := &Delta{Handle: root}
	return &tree{root: d, nodes: map[model.Handle]*Delta{root: d}}
}

// node returns the node for h, creating it and any missing ancestors up to
// the root. Ancestors learn that they have changed children.
func (t *tree) node(h model.Handle) *Delta {
	if n, ok := t.nodes[h]; ok {
		return n
	}
	if !t.root.Handle.IsAncestorOf(h) {
		return t.root
	}
	n := &Delta{Handle: h}
	t.nodes[h] = n
	parent := t.node(h.Parent())
	parent.Flags |= FlagChildren
	parent.Children = append(parent.Children, n)
	return n
}

func (t *tree) added(h model.Handle) {
	n := t.node(h)
	n.Kind = Added
}

func (t *tree) removed(h model.Handle) {
	n := t.node(h)
	n.Kind = Removed
}

func (t *tree) changed(h model.Handle, f Flags) {
	if f == 0 {
		return
	}
	n := t.node(h)
	n.Flags |= f
}

// trim drops the recorded children of REMOVED nodes. Removal of an element
// implies removal of everything below it.
func trim(d *Delta) {
	if d.Kind == Removed {
		d.Children = nil
		d.Flags &^= FlagChildren
		return
	}
	for _, c := range d.Children {
		trim(c)
	}
}
