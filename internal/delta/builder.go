package delta

import (
	"slices"

	"github.com/agentic-research/skein/internal/model"
)

// Source gives read access to the bodies of open elements. Lookup must not
// open anything.
type Source interface {
	Lookup(h model.Handle) (*model.Body, bool)
}

// links is a position in a sibling list.
type links struct {
	prev, next model.Handle
}

// Snapshot is the structure of a subtree at one point in time. Bodies are
// held by reference; the engine replaces bodies wholly on rebuild, so a
// recorded body never changes under the snapshot.
type Snapshot struct {
	root     model.Handle
	maxDepth int

	// bodies holds every visited handle. A nil body marks an element that
	// was listed by its parent but not open.
	bodies map[model.Handle]*model.Body
	order  []model.Handle
	pos    map[model.Handle]links
}

// Record captures the subtree under root down to maxDepth levels below it
// (0 walks everything). A root that is not open records nothing, so a later
// Diff reports it as added.
func Record(src Source, root model.Handle, maxDepth int) *Snapshot {
	s := &Snapshot{
		root:     root,
		maxDepth: maxDepth,
		bodies:   make(map[model.Handle]*model.Body),
		pos:      make(map[model.Handle]links),
	}
	if _, ok := src.Lookup(root); ok {
		s.record(src, root, 0)
	}
	return s
}

func (s *Snapshot) record(src Source, h model.Handle, depth int) {
	b, ok := src.Lookup(h)
	s.order = append(s.order, h)
	if !ok {
		s.bodies[h] = nil
		return
	}
	s.bodies[h] = b
	if cutoff(s.maxDepth, depth) {
		return
	}
	linkSiblings(s.pos, b.Children)
	for _, c := range b.Children {
		s.record(src, c, depth+1)
	}
}

// Root returns the handle the snapshot was recorded from.
func (s *Snapshot) Root() model.Handle { return s.root }

// Len returns the number of recorded elements.
func (s *Snapshot) Len() int { return len(s.order) }

// Contains reports whether h was visited.
func (s *Snapshot) Contains(h model.Handle) bool {
	_, ok := s.bodies[h]
	return ok
}

func cutoff(maxDepth, depth int) bool {
	return maxDepth > 0 && depth >= maxDepth
}

func linkSiblings(pos map[model.Handle]links, children []model.Handle) {
	for i, c := range children {
		var l links
		if i > 0 {
			l.prev = children[i-1]
		}
		if i+1 < len(children) {
			l.next = children[i+1]
		}
		pos[c] = l
	}
}

// splice unlinks h from its sibling list so that its neighbours point at
// each other.
func splice(pos map[model.Handle]links, h model.Handle) {
	l, ok := pos[h]
	if !ok {
		return
	}
	if !l.prev.IsZero() {
		p := pos[l.prev]
		p.next = l.next
		pos[l.prev] = p
	}
	if !l.next.IsZero() {
		n := pos[l.next]
		n.prev = l.prev
		pos[l.next] = n
	}
}

// walk holds all state of one Diff. It is created per call and owned by it.
type walk struct {
	snap *Snapshot
	src  Source
	tree *tree

	unseen    map[model.Handle]bool // recorded, not yet met in the current tree
	oldPos    map[model.Handle]links
	newPos    map[model.Handle]links
	removed   map[model.Handle]bool
	opaque    map[model.Handle]bool // met but not expanded on one side
	survivors []model.Handle
}

// Diff compares the snapshot with the current state of src and returns the
// change tree rooted at the snapshot root. An unchanged subtree yields an
// Empty delta.
func Diff(snap *Snapshot, src Source) *Delta {
	w := &walk{
		snap:    snap,
		src:     src,
		tree:    newTree(snap.root),
		unseen:  make(map[model.Handle]bool, len(snap.bodies)),
		oldPos:  make(map[model.Handle]links, len(snap.pos)),
		newPos:  make(map[model.Handle]links, len(snap.pos)),
		removed: make(map[model.Handle]bool),
		opaque:  make(map[model.Handle]bool),
	}
	for h := range snap.bodies {
		w.unseen[h] = true
	}
	for h, l := range snap.pos {
		w.oldPos[h] = l
	}

	w.findAdditions()
	w.findDeletions()
	w.findChangesInPositioning()
	trim(w.tree.root)
	return w.tree.root
}

func (w *walk) findAdditions() {
	if _, ok := w.src.Lookup(w.snap.root); !ok {
		return
	}
	w.visit(w.snap.root, 0)
}

func (w *walk) visit(h model.Handle, depth int) {
	old, known := w.snap.bodies[h]
	if !known {
		w.tree.added(h)
		splice(w.newPos, h)
		return
	}
	delete(w.unseen, h)
	w.survivors = append(w.survivors, h)

	cur, ok := w.src.Lookup(h)
	if old == nil || !ok {
		// Listed on both sides but open on at most one: nothing to compare
		// and nothing below it is reported.
		w.opaque[h] = true
		return
	}
	if cutoff(w.snap.maxDepth, depth) {
		if old.Digest != cur.Digest {
			w.tree.changed(h, FlagContent)
		}
		return
	}
	w.tree.changed(h, facets(old, cur))

	linkSiblings(w.newPos, cur.Children)
	for _, c := range cur.Children {
		w.visit(c, depth+1)
	}
}

// facets compares the facts of a surviving element.
func facets(old, cur *model.Body) Flags {
	if old == cur {
		return 0
	}
	var f Flags
	if old.Modifiers != cur.Modifiers {
		f |= FlagModifiers
	}
	if !slices.Equal(old.SuperTypes, cur.SuperTypes) {
		f |= FlagSuperTypes
	}
	if old.Signature != cur.Signature || old.TypeName != cur.TypeName {
		f |= FlagSignature
	}
	return f
}

func (w *walk) findDeletions() {
	for _, h := range w.snap.order {
		if !w.unseen[h] || w.covered(h) {
			continue
		}
		w.removed[h] = true
		w.tree.removed(h)
		splice(w.oldPos, h)
	}
}

// covered reports whether an ancestor of h inside the snapshot was removed
// or left unexpanded, which accounts for h already.
func (w *walk) covered(h model.Handle) bool {
	for p := h.Parent(); p == w.snap.root || w.snap.root.IsAncestorOf(p); p = p.Parent() {
		if w.removed[p] || w.opaque[p] {
			return true
		}
	}
	return false
}

func (w *walk) findChangesInPositioning() {
	for _, h := range w.survivors {
		oldL, okOld := w.oldPos[h]
		newL, okNew := w.newPos[h]
		if !okOld || !okNew {
			continue
		}
		if oldL.prev != newL.prev {
			w.tree.changed(h, FlagReorder)
		}
	}
}
