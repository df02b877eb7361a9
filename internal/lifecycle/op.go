package lifecycle

import (
	"context"
	"fmt"
	"path"

	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/store"
)

// Op is the capability to open, close and mutate elements of one root. It
// is only valid inside the Do callback that created it.
type Op struct {
	c    *Controller
	ctx  context.Context
	root model.Handle
}

// Root returns the handle whose lock this Op holds.
func (op *Op) Root() model.Handle { return op.root }

func (op *Op) check(h model.Handle) error {
	if h.IsZero() || h.Kind() == model.KindInvalid {
		return model.NewError(model.NotPresent, "lookup", h, nil)
	}
	if rootOf(h) != op.root {
		return model.NewError(model.InconsistentState, "lock", h,
			fmt.Errorf("handle is outside locked root %s", op.root))
	}
	return nil
}

// IsOpen reports whether h has a body.
func (op *Op) IsOpen(h model.Handle) bool { return op.c.bodies.Contains(h) }

// Lookup returns the body of an open element without opening it.
func (op *Op) Lookup(h model.Handle) (*model.Body, bool) { return op.c.bodies.Peek(h) }

// Open returns the body of h, building it and any closed ancestors first.
func (op *Op) Open(h model.Handle) (*model.Body, error) {
	if err := op.check(h); err != nil {
		return nil, err
	}
	return op.open(h)
}

func (op *Op) open(h model.Handle) (*model.Body, error) {
	c := op.c
	if b, ok := c.bodies.Get(h); ok {
		return b, nil
	}

	if h.Kind().Member() {
		owner := h.Openable()
		if owner.IsZero() {
			return nil, model.NewError(model.NotPresent, "open", h, nil)
		}
		if _, err := op.open(owner); err != nil {
			return nil, err
		}
		if b, ok := c.bodies.Get(h); ok {
			return b, nil
		}
		return nil, model.NewError(model.NotPresent, "open", h, nil)
	}

	if s, ok := c.stateOf(h); ok {
		return nil, model.NewError(model.InconsistentState, "open", h, fmt.Errorf("element is %s", s))
	}

	if parent := h.Parent(); !parent.IsZero() {
		pb, err := op.openParent(parent)
		if err != nil {
			return nil, err
		}
		if !pb.HasChild(h) && !op.hasWorkingCopy(h) {
			return nil, model.NewError(model.NotPresent, "open", h, nil)
		}
	}

	c.setState(h, stateOpening)
	defer c.clearState(h)

	b, err := c.buildBody(op.ctx, h)
	if err != nil {
		return nil, err
	}
	c.bodies.Put(h, b)
	return b, nil
}

// openParent opens an ancestor. The only ancestor outside the locked root
// is the model root, which is open for the controller's whole life.
func (op *Op) openParent(parent model.Handle) (*model.Body, error) {
	if rootOf(parent) == op.root {
		return op.open(parent)
	}
	if b, ok := op.c.bodies.Get(parent); ok {
		return b, nil
	}
	return nil, model.NewError(model.InconsistentState, "open", parent, fmt.Errorf("ancestor outside locked root %s is closed", op.root))
}

// hasWorkingCopy reports whether h may open without being listed by its
// parent: a file with a buffer, or a package holding an in-memory file.
func (op *Op) hasWorkingCopy(h model.Handle) bool {
	switch h.Kind() {
	case model.KindFile:
		_, ok := op.c.buffers.Get(h)
		return ok
	case model.KindPackage:
		return op.c.hasWorkingCopies(h)
	}
	return false
}

// AddProject registers a project backed by st and rebuilds the model root.
// A project with the same name is closed under its own lock and replaced.
// It needs an Op on the model root.
func (op *Op) AddProject(name string, st *storage.Storage) error {
	if err := op.check(model.Root()); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("project name must not be empty")
	}
	c := op.c
	p := model.Root().Child(model.KindProject, name)
	if _, existed := c.Storage(name); existed {
		if err := c.Do(op.ctx, p, func(inner *Op) error { return inner.Close(p) }); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if _, existed := c.projects[name]; !existed {
		c.order = append(c.order, name)
	}
	c.projects[name] = st
	c.mu.Unlock()
	return op.rebuild(model.Root())
}

// RemoveProject closes a project, forgets it and rebuilds the model root.
// It needs an Op on the model root.
func (op *Op) RemoveProject(name string) error {
	if err := op.check(model.Root()); err != nil {
		return err
	}
	c := op.c
	p := model.Root().Child(model.KindProject, name)
	if err := c.Do(op.ctx, p, func(inner *Op) error { return inner.Close(p) }); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.projects, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return op.rebuild(model.Root())
}

// Close tears down the openable element enclosing h and everything below
// it, discarding unsaved text. Closing a closed element does nothing.
func (op *Op) Close(h model.Handle) error {
	if err := op.check(h); err != nil {
		return err
	}
	target := h.Openable()
	if target == model.Root() {
		return model.NewError(model.ReadOnly, "close", h, fmt.Errorf("the model root stays open"))
	}
	op.c.close(target, true, false)
	return nil
}

// Buffer returns the text buffer of file h, opening the file and
// reloading an evicted buffer as needed.
func (op *Op) Buffer(h model.Handle) (*store.Buffer, error) {
	if err := op.check(h); err != nil {
		return nil, err
	}
	if h.Kind() != model.KindFile {
		return nil, model.NewError(model.ReadOnly, "buffer", h, fmt.Errorf("%s has no text buffer", h.Kind()))
	}
	if _, err := op.open(h); err != nil {
		return nil, err
	}
	return op.buffer(h)
}

// buffer returns the buffer of an open file, re-reading it from storage
// when the buffer store evicted it.
func (op *Op) buffer(h model.Handle) (*store.Buffer, error) {
	c := op.c
	if b, ok := c.buffers.Get(h); ok {
		return b, nil
	}
	st, err := c.storageFor(h)
	if err != nil {
		return nil, err
	}
	data, err := st.ReadText(sourcePath(h))
	if err != nil {
		return nil, ioErr("text", h, err)
	}
	b := c.buffers.Open(h, data, true)
	b.SetObserver(func(*store.Buffer) { c.markStale(h) })
	return b, nil
}

// Text returns the source of a file, or the declaration text of a member
// of a file.
func (op *Op) Text(h model.Handle) ([]byte, error) {
	if err := op.check(h); err != nil {
		return nil, err
	}
	switch {
	case h.Kind() == model.KindFile:
		b, err := op.Buffer(h)
		if err != nil {
			return nil, err
		}
		return b.Contents(), nil
	case h.Kind().Member():
		owner := h.Openable()
		if owner.Kind() != model.KindFile {
			return nil, model.NewError(model.ReadOnly, "text", h, fmt.Errorf("archived members carry no source"))
		}
		body, err := op.open(h)
		if err != nil {
			return nil, err
		}
		buf, err := op.Buffer(owner)
		if err != nil {
			return nil, err
		}
		src := buf.Contents()
		r := body.DeclRange
		if int(r.End) > len(src) || r.Start > r.End {
			return nil, model.NewError(model.InconsistentState, "text", h,
				fmt.Errorf("range [%d,%d) outside %d bytes", r.Start, r.End, len(src)))
		}
		return src[r.Start:r.End], nil
	}
	return nil, model.NewError(model.NotPresent, "text", h, fmt.Errorf("%s has no text", h.Kind()))
}

// OpenWorkingCopy opens file h over content held only in memory. The file
// does not need to exist in storage or be listed by its package, and its
// package directory need not exist either.
func (op *Op) OpenWorkingCopy(h model.Handle, content []byte) (*model.Body, error) {
	if err := op.check(h); err != nil {
		return nil, err
	}
	if h.Kind() != model.KindFile {
		return nil, model.NewError(model.ReadOnly, "working copy", h, fmt.Errorf("%s has no text buffer", h.Kind()))
	}
	c := op.c
	c.close(h, true, false)

	st, err := c.storageFor(h)
	if err != nil {
		return nil, err
	}
	exists := st.Exists(sourcePath(h))
	b := c.buffers.Open(h, content, exists)
	if exists {
		b.SetContents(content)
	}
	body, err := op.open(h)
	if err != nil {
		c.buffers.Close(h)
		return nil, err
	}
	return body, nil
}

// Rebuild replaces the body of h with one built from current state. A
// file keeps its buffer so unsaved text is reparsed; a container keeps its
// open children that are still listed.
func (op *Op) Rebuild(h model.Handle) error {
	if err := op.check(h); err != nil {
		return err
	}
	return op.rebuild(h.Openable())
}

func (op *Op) rebuild(h model.Handle) error {
	c := op.c
	old, ok := c.bodies.Peek(h)
	if !ok {
		_, err := op.open(h)
		return err
	}

	if h.Kind() == model.KindFile || h.Kind() == model.KindArtifact {
		c.close(h, true, true)
		_, err := op.open(h)
		return err
	}

	c.setState(h, stateOpening)
	b, err := c.buildBody(op.ctx, h)
	c.clearState(h)
	if err != nil {
		if model.IsNotPresent(err) {
			c.close(h, true, false)
		}
		return err
	}
	for _, child := range old.Children {
		if !b.HasChild(child) && child.Kind().Openable() {
			if _, wc := c.buffers.Get(child); wc && child.Kind() == model.KindFile {
				continue
			}
			c.close(child, true, false)
		}
	}
	c.bodies.Put(h, b)
	return nil
}

// Save writes the buffer of file h to storage, formatted when a formatter
// is configured, and rebuilds the file from the saved text. Content the
// configured check rejects is not written.
func (op *Op) Save(h model.Handle) error {
	if err := op.check(h); err != nil {
		return err
	}
	if h.ReadOnly() {
		return model.NewError(model.ReadOnly, "save", h, nil)
	}
	h = h.Openable()
	if h.Kind() != model.KindFile {
		return model.NewError(model.ReadOnly, "save", h, fmt.Errorf("%s has no text buffer", h.Kind()))
	}
	c := op.c
	b, ok := c.buffers.Get(h)
	if !ok {
		return nil
	}
	st, err := c.storageFor(h)
	if err != nil {
		return err
	}
	p := sourcePath(h)
	content := b.Contents()
	if c.format != nil {
		content = c.format(p, content)
	}
	if c.check != nil {
		if err := c.check(op.ctx, content, p); err != nil {
			return model.NewError(model.InconsistentState, "save", h, err)
		}
	}
	if err := st.Write(p, content); err != nil {
		return model.NewError(model.IOFailure, "save", h, err)
	}
	b.MarkSaved(content)

	// A new file, possibly in a new directory, must be listed before it
	// can be rebuilt.
	if pb, ok := c.bodies.Peek(h.Parent()); !ok || !pb.HasChild(h) {
		if err := op.refreshContainers(h.Parent()); err != nil {
			return err
		}
	}
	if c.bodies.Contains(h) {
		return op.rebuild(h)
	}
	return nil
}

// CreateFile writes a new file into package pkg and refreshes the
// containers that list it.
func (op *Op) CreateFile(pkg model.Handle, name string, content []byte) (model.Handle, error) {
	if err := op.check(pkg); err != nil {
		return model.Handle{}, err
	}
	if pkg.Kind() != model.KindPackage {
		return model.Handle{}, model.NewError(model.ReadOnly, "create", pkg, fmt.Errorf("files live in packages, not %s", pkg.Kind()))
	}
	if ingest.IsArchive(name) {
		return model.Handle{}, model.NewError(model.ReadOnly, "create", pkg, fmt.Errorf("fact archives are not authored"))
	}
	c := op.c
	st, err := c.storageFor(pkg)
	if err != nil {
		return model.Handle{}, err
	}
	if err := st.Write(path.Join(pkg.Name(), name), content); err != nil {
		return model.Handle{}, model.NewError(model.IOFailure, "create", pkg, err)
	}
	if err := op.refreshContainers(pkg); err != nil {
		return model.Handle{}, err
	}
	return pkg.Child(model.KindFile, name), nil
}

// DeleteFile removes file h from storage and from the model.
func (op *Op) DeleteFile(h model.Handle) error {
	if err := op.check(h); err != nil {
		return err
	}
	if h.ReadOnly() || h.Kind() == model.KindArtifact {
		return model.NewError(model.ReadOnly, "delete", h, nil)
	}
	if h.Kind() != model.KindFile {
		return model.NewError(model.NotPresent, "delete", h, fmt.Errorf("%s is not a file", h.Kind()))
	}
	c := op.c
	st, err := c.storageFor(h)
	if err != nil {
		return err
	}
	c.close(h, true, false)
	if err := st.Remove(sourcePath(h)); err != nil {
		return ioErr("delete", h, err)
	}
	return op.refreshContainers(h.Parent())
}

// refreshContainers rebuilds the open package and project bodies so that
// their child lists follow storage.
func (op *Op) refreshContainers(pkg model.Handle) error {
	c := op.c
	if c.bodies.Contains(pkg) {
		if err := op.rebuild(pkg); err != nil && !model.IsNotPresent(err) {
			return err
		}
	}
	if proj, ok := pkg.Project(); ok && c.bodies.Contains(proj) {
		return op.rebuild(proj)
	}
	return nil
}

// Refresh brings h in line with storage after an external change. Files
// holding unsaved text are left alone.
func (op *Op) Refresh(h model.Handle) error {
	if err := op.check(h); err != nil {
		return err
	}
	c := op.c
	h = h.Openable()
	switch h.Kind() {
	case model.KindFile, model.KindArtifact:
		if b, ok := c.buffers.Get(h); ok && (b.Dirty() || !b.Backed()) {
			return nil
		}
		st, err := c.storageFor(h)
		if err != nil {
			return err
		}
		wasOpen := c.bodies.Contains(h)
		c.close(h, true, false)
		if !st.Exists(sourcePath(h)) {
			return op.refreshContainers(h.Parent())
		}
		if pkg := h.Parent(); c.bodies.Contains(pkg) {
			if pb, _ := c.bodies.Peek(pkg); !pb.HasChild(h) {
				if err := op.refreshContainers(pkg); err != nil {
					return err
				}
			}
		}
		if wasOpen {
			_, err := op.open(h)
			return err
		}
		return nil
	default:
		if !c.bodies.Contains(h) {
			return nil
		}
		err := op.rebuild(h)
		if model.IsNotPresent(err) && h.Kind() == model.KindPackage {
			return op.refreshContainers(h)
		}
		return err
	}
}
