// Package lifecycle opens and closes model elements: it builds bodies from
// storage and the fact producers, registers them in the body store, and
// tears them down again on explicit close or cache eviction.
//
// An element is open exactly when the body store holds its body. Builds and
// closes inside one project are serialized by that project's lock; the model
// root has a lock of its own. The model root lock may be held while a
// project lock is taken, never the other way round.
package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/store"
)

// state is the transient part of an element's lifecycle. Open and Closed are
// derived from the body store and never recorded here.
type state uint8

const (
	stateOpening state = iota + 1
	stateClosing
)

func (s state) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateClosing:
		return "closing"
	}
	return "settled"
}

// Options configures a Controller.
type Options struct {
	Capacities store.Capacities
	Buffers    int
	Registry   *ingest.Registry
	Logger     *slog.Logger
	// Format rewrites content before it is saved. nil saves verbatim.
	Format func(path string, content []byte) []byte
	// Check vets the content about to be saved. A failing save leaves
	// storage and the buffer untouched.
	Check func(ctx context.Context, content []byte, path string) error
}

// Controller owns the body and buffer stores and every transition between
// closed and open.
type Controller struct {
	bodies   *store.BodyStore
	buffers  *store.BufferStore
	registry *ingest.Registry
	format   func(string, []byte) []byte
	check    func(context.Context, []byte, string) error
	log      *slog.Logger

	mu       sync.Mutex // guards the fields below
	roots    map[model.Handle]*sync.Mutex
	states   map[model.Handle]state
	projects map[string]*storage.Storage
	order    []string
	stale    map[model.Handle]bool
}

// New creates a controller with no projects. The model root is open from
// the start.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	reg := opts.Registry
	if reg == nil {
		reg = ingest.DefaultRegistry()
	}
	c := &Controller{
		bodies:   store.NewBodyStore(opts.Capacities, log),
		buffers:  store.NewBufferStore(opts.Buffers, log),
		registry: reg,
		format:   opts.Format,
		check:    opts.Check,
		log:      log,
		roots:    make(map[model.Handle]*sync.Mutex),
		states:   make(map[model.Handle]state),
		projects: make(map[string]*storage.Storage),
		stale:    make(map[model.Handle]bool),
	}
	c.bodies.SetCloser(c.evict)
	c.bodies.Put(model.Root(), c.modelBody())
	return c
}

// Bodies exposes the body store for statistics.
func (c *Controller) Bodies() *store.BodyStore { return c.bodies }

// Buffers exposes the buffer store for statistics.
func (c *Controller) Buffers() *store.BufferStore { return c.buffers }

// Registry returns the producer registry.
func (c *Controller) Registry() *ingest.Registry { return c.registry }

// AddProject registers a project backed by st, replacing any project with
// the same name. A replaced project is closed first.
func (c *Controller) AddProject(ctx context.Context, name string, st *storage.Storage) error {
	return c.Do(ctx, model.Root(), func(op *Op) error { return op.AddProject(name, st) })
}

// RemoveProject closes and forgets a project.
func (c *Controller) RemoveProject(ctx context.Context, name string) error {
	return c.Do(ctx, model.Root(), func(op *Op) error { return op.RemoveProject(name) })
}

// CloseAll closes every project, discarding unsaved text.
func (c *Controller) CloseAll(ctx context.Context) error {
	for _, name := range c.Projects() {
		p := model.Root().Child(model.KindProject, name)
		if err := c.Do(ctx, p, func(op *Op) error { return op.Close(p) }); err != nil {
			return err
		}
	}
	return nil
}

// Projects lists project names in registration order.
func (c *Controller) Projects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Storage returns the backing storage of a project.
func (c *Controller) Storage(project string) (*storage.Storage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.projects[project]
	return st, ok
}

// IsOpen reports whether h has a body.
func (c *Controller) IsOpen(h model.Handle) bool {
	return c.bodies.Contains(h)
}

// Lookup returns the body of an open element without touching recency.
func (c *Controller) Lookup(h model.Handle) (*model.Body, bool) {
	return c.bodies.Peek(h)
}

// Body returns the body of h, opening it on a miss. A hit takes no lock.
func (c *Controller) Body(ctx context.Context, h model.Handle) (*model.Body, error) {
	if b, ok := c.bodies.Get(h); ok {
		return b, nil
	}
	var b *model.Body
	err := c.Do(ctx, h, func(op *Op) error {
		var err error
		b, err = op.Open(h)
		return err
	})
	return b, err
}

// Stale lists files whose buffer changed after their body was built.
func (c *Controller) Stale() []model.Handle {
	c.mu.Lock()
	out := make([]model.Handle, 0, len(c.stale))
	for h := range c.stale {
		out = append(out, h)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// rootOf returns the handle whose lock guards h.
func rootOf(h model.Handle) model.Handle {
	if p, ok := h.Project(); ok {
		return p
	}
	return model.Root()
}

func (c *Controller) rootLock(root model.Handle) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.roots[root]
	if !ok {
		m = &sync.Mutex{}
		c.roots[root] = m
	}
	return m
}

// Do runs fn while holding the lock of h's root.
func (c *Controller) Do(ctx context.Context, h model.Handle, fn func(*Op) error) error {
	if h.IsZero() {
		return model.NewError(model.NotPresent, "lock", h, nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	root := rootOf(h)
	m := c.rootLock(root)
	m.Lock()
	defer m.Unlock()
	return fn(&Op{c: c, ctx: ctx, root: root})
}

func (c *Controller) setState(h model.Handle, s state) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[h] = s
}

func (c *Controller) clearState(h model.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, h)
}

func (c *Controller) stateOf(h model.Handle) (state, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[h]
	return s, ok
}

// busyUnder reports whether h or one of its descendants is mid-transition.
func (c *Controller) busyUnder(h model.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.states {
		if k == h || h.IsAncestorOf(k) {
			return true
		}
	}
	return false
}

func (c *Controller) markStale(h model.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[h] = true
}

func (c *Controller) clearStale(h model.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stale, h)
}

// unsavedUnder reports whether a buffer at or below h would lose content if
// closed.
func (c *Controller) unsavedUnder(h model.Handle) bool {
	for b := range c.buffers.All() {
		o := b.Owner()
		if (o == h || h.IsAncestorOf(o)) && (b.Dirty() || !b.Backed()) {
			return true
		}
	}
	return false
}

// evict is the body store's closer. It runs inside a Put, which always
// happens under the lock of the cause's root.
func (c *Controller) evict(victim, cause model.Handle) bool {
	target := victim.Openable()
	if target.IsZero() || target == model.Root() {
		return false
	}
	if c.busyUnder(target) || c.unsavedUnder(target) {
		return false
	}

	root := rootOf(target)
	if root != rootOf(cause) {
		m := c.rootLock(root)
		if !m.TryLock() {
			return false
		}
		defer m.Unlock()
	}

	c.log.Debug("evicting", "element", target.String(), "cause", cause.String())
	c.close(target, false, false)
	return !c.bodies.Contains(victim)
}

// close tears down h and everything open below it. With force unset it
// refuses when a buffer below h holds unsaved text. keepBuffer leaves h's
// own buffer registered. close is idempotent.
func (c *Controller) close(h model.Handle, force, keepBuffer bool) bool {
	if !force && c.unsavedUnder(h) {
		return false
	}
	if s, ok := c.stateOf(h); ok && s == stateClosing {
		return true
	}
	c.setState(h, stateClosing)
	defer c.clearState(h)

	if b, ok := c.buffers.Get(h); ok {
		b.SetObserver(nil)
		if !keepBuffer {
			c.buffers.Close(h)
		}
	}

	// Children first: listed openables, then working copies below h that
	// may not be listed.
	if body, ok := c.bodies.Peek(h); ok {
		for _, child := range body.Children {
			if child.Kind().Openable() && c.bodies.Contains(child) {
				c.close(child, true, false)
			}
		}
	}
	for b := range c.buffers.All() {
		if o := b.Owner(); h.IsAncestorOf(o) {
			c.close(o, true, false)
		}
	}

	if h.Kind() == model.KindFile || h.Kind() == model.KindArtifact {
		c.bodies.RemoveOwned(h)
	}
	c.bodies.Remove(h)
	c.clearStale(h)
	return true
}
