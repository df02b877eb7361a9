package lifecycle

import (
	"context"
	"encoding/binary"
	"path"

	"github.com/cespare/xxhash/v2"

	"github.com/agentic-research/skein/api"
	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/store"
)

func ioErr(op string, h model.Handle, err error) error {
	if storage.IsNotExist(err) {
		return model.NewError(model.NotPresent, op, h, err)
	}
	return model.NewError(model.IOFailure, op, h, err)
}

// storageFor returns the backing storage of h's project.
func (c *Controller) storageFor(h model.Handle) (*storage.Storage, error) {
	p, ok := h.Project()
	if !ok {
		return nil, model.NewError(model.NotPresent, "storage", h, nil)
	}
	st, ok := c.Storage(p.Name())
	if !ok {
		return nil, model.NewError(model.NotPresent, "storage", h, nil)
	}
	return st, nil
}

// sourcePath is the storage key of a file or artifact.
func sourcePath(h model.Handle) string {
	pkg, _ := h.Ancestor(model.KindPackage)
	return path.Join(pkg.Name(), h.Name())
}

// buildBody computes the body of an openable element. Files and artifacts
// register their member bodies before returning; containers register
// nothing. The caller puts the returned body.
func (c *Controller) buildBody(ctx context.Context, h model.Handle) (*model.Body, error) {
	switch h.Kind() {
	case model.KindModel:
		return c.modelBody(), nil
	case model.KindProject:
		return c.projectBody(h)
	case model.KindPackage:
		return c.packageBody(h)
	case model.KindFile, model.KindArtifact:
		return c.sourceBody(ctx, h)
	}
	return nil, model.NewError(model.NotPresent, "build", h, nil)
}

func (c *Controller) modelBody() *model.Body {
	root := model.Root()
	names := c.Projects()
	b := &model.Body{Children: make([]model.Handle, 0, len(names))}
	for _, n := range names {
		b.Children = append(b.Children, root.Child(model.KindProject, n))
	}
	b.Digest = keysDigest(b.Children)
	return b
}

func (c *Controller) projectBody(h model.Handle) (*model.Body, error) {
	st, err := c.storageFor(h)
	if err != nil {
		return nil, err
	}
	dirs, err := st.Dirs(c.registry.Supported)
	if err != nil {
		return nil, ioErr("build", h, err)
	}
	b := &model.Body{Children: make([]model.Handle, 0, len(dirs)), Path: st.Root()}
	for _, d := range dirs {
		b.Children = append(b.Children, h.Child(model.KindPackage, d))
	}
	b.Digest = keysDigest(b.Children)
	return b, nil
}

func (c *Controller) packageBody(h model.Handle) (*model.Body, error) {
	st, err := c.storageFor(h)
	if err != nil {
		return nil, err
	}
	dir := h.Name()
	entries, err := st.ReadDir(dir)
	if err != nil && (!storage.IsNotExist(err) || !c.hasWorkingCopies(h)) {
		return nil, ioErr("build", h, err)
	}
	b := &model.Body{Path: dir}
	for _, e := range entries {
		if e.IsDir || !c.registry.Supported(e.Name) {
			continue
		}
		kind := model.KindFile
		if ingest.IsArchive(e.Name) {
			kind = model.KindArtifact
		}
		b.Children = append(b.Children, h.Child(kind, e.Name))
	}
	if len(b.Children) == 0 && dir != "" && !c.hasWorkingCopies(h) {
		return nil, model.NewError(model.NotPresent, "build", h, nil)
	}
	b.Digest = keysDigest(b.Children)
	return b, nil
}

// hasWorkingCopies reports whether an unsaved in-memory buffer holds a file
// directly under pkg. Such a package opens with no directory in storage.
func (c *Controller) hasWorkingCopies(pkg model.Handle) bool {
	for b := range c.buffers.All() {
		if !b.Backed() && b.Owner().Parent() == pkg {
			return true
		}
	}
	return false
}

// sourceBody reads a file through its buffer (or an artifact directly),
// runs the producer and registers the members. On failure nothing it
// registered stays behind.
func (c *Controller) sourceBody(ctx context.Context, h model.Handle) (_ *model.Body, err error) {
	st, err := c.storageFor(h)
	if err != nil {
		return nil, err
	}
	p := sourcePath(h)

	var content []byte
	var buf *store.Buffer
	openedBuffer := false
	if h.Kind() == model.KindFile {
		if b, ok := c.buffers.Get(h); ok {
			buf = b
			content = b.Contents()
		} else {
			data, rerr := st.ReadText(p)
			if rerr != nil {
				return nil, ioErr("open", h, rerr)
			}
			buf = c.buffers.Open(h, data, true)
			openedBuffer = true
			content = data
		}
	} else {
		data, rerr := st.ReadText(p)
		if rerr != nil {
			return nil, ioErr("open", h, rerr)
		}
		content = data
	}

	var registered []model.Handle
	defer func() {
		if err == nil {
			return
		}
		for _, m := range registered {
			c.bodies.Remove(m)
		}
		if openedBuffer {
			c.buffers.Close(h)
		}
	}()

	prod, ok := c.registry.For(h.Name())
	if !ok {
		return nil, model.NewError(model.NotPresent, "open", h, nil)
	}
	facts, err := prod.Facts(ctx, p, content)
	if err != nil {
		return nil, model.NewError(model.IOFailure, "produce", h, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	children, digests := c.register(h, facts, &registered)
	b := &model.Body{
		Children: children,
		Path:     p,
		Language: c.registry.Language(h.Name()),
		Digest:   childDigest(children, digests),
	}
	if buf != nil {
		buf.SetObserver(func(*store.Buffer) { c.markStale(h) })
	}
	c.clearStale(h)
	return b, nil
}

type occKey struct {
	kind model.Kind
	name string
}

// register translates facts into member handles and bodies under parent.
// Every child body is put before the body that lists it.
func (c *Controller) register(parent model.Handle, facts []api.Fact, registered *[]model.Handle) ([]model.Handle, []uint64) {
	counts := make(map[occKey]int, len(facts))
	children := make([]model.Handle, 0, len(facts))
	digests := make([]uint64, 0, len(facts))
	for _, f := range facts {
		kind := model.KindForFact(f.Kind)
		if kind == model.KindInvalid {
			continue
		}
		key := occKey{kind, f.Name}
		counts[key]++
		h := parent.ChildN(kind, f.Name, counts[key])

		grand, grandDigests := c.register(h, f.Children, registered)
		d := factDigest(f, grand, grandDigests)
		c.bodies.Put(h, &model.Body{
			Children:   grand,
			Modifiers:  f.Modifiers,
			TypeName:   f.TypeName,
			Signature:  f.Signature,
			SuperTypes: f.SuperTypes,
			NameRange:  f.NameRange,
			DeclRange:  f.DeclRange,
			Digest:     d,
		})
		*registered = append(*registered, h)
		children = append(children, h)
		digests = append(digests, d)
	}
	return children, digests
}

// factDigest summarises the structural facts of a member and its subtree.
// Source offsets are left out so that edits elsewhere in the file do not
// register as changes.
func factDigest(f api.Fact, children []model.Handle, childDigests []uint64) uint64 {
	d := xxhash.New()
	var n [8]byte
	_, _ = d.WriteString(string(f.Kind))
	_, _ = d.WriteString("\x00" + f.Name + "\x00" + f.TypeName + "\x00" + f.Signature + "\x00")
	binary.LittleEndian.PutUint64(n[:], uint64(f.Modifiers))
	_, _ = d.Write(n[:])
	for _, s := range f.SuperTypes {
		_, _ = d.WriteString(s + "\x00")
	}
	_, _ = d.WriteString("\x01")
	binary.LittleEndian.PutUint64(n[:], childDigest(children, childDigests))
	_, _ = d.Write(n[:])
	return d.Sum64()
}

// childDigest combines child identities and digests in order.
func childDigest(children []model.Handle, digests []uint64) uint64 {
	d := xxhash.New()
	var n [8]byte
	for i, h := range children {
		_, _ = d.WriteString(h.Key())
		binary.LittleEndian.PutUint64(n[:], digests[i])
		_, _ = d.Write(n[:])
	}
	return d.Sum64()
}

// keysDigest summarises a container's child list.
func keysDigest(children []model.Handle) uint64 {
	d := xxhash.New()
	for _, h := range children {
		_, _ = d.WriteString(h.Key())
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}
