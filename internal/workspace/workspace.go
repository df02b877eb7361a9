// Package workspace is the entry point to the structural model. A Workspace
// owns the lifecycle controller and wraps every mutation in a snapshot and
// diff, publishing the resulting delta to subscribers.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/skein/internal/config"
	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/lifecycle"
	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/store"
	"github.com/agentic-research/skein/internal/writeback"
)

// Op names the operation that produced an Event.
type Op string

const (
	OpAddProject    Op = "add-project"
	OpRemoveProject Op = "remove-project"
	OpWorkingCopy   Op = "working-copy"
	OpEdit          Op = "edit"
	OpReconcile     Op = "reconcile"
	OpSave          Op = "save"
	OpCreate        Op = "create"
	OpDelete        Op = "delete"
	OpRefresh       Op = "refresh"
)

// Event carries the structural delta of one completed operation.
type Event struct {
	ID    uuid.UUID
	Op    Op
	Delta *delta.Delta
	At    time.Time
}

// Options configures a Workspace beyond the config file.
type Options struct {
	Logger   *slog.Logger
	Registry *ingest.Registry
	// ModulePath is handed to gofumpt when formatting on save.
	ModulePath string
}

// Workspace is a live structural model over a set of projects.
type Workspace struct {
	ctrl     *lifecycle.Controller
	log      *slog.Logger
	maxDepth int

	subMu   sync.Mutex
	subs    map[uint64]func(Event)
	nextSub uint64
}

// New creates a workspace from cfg. Projects listed in cfg are registered
// against their directories on disk but nothing is opened yet.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	lo := lifecycle.Options{
		Capacities: cfg.Capacities(),
		Buffers:    cfg.Cache.Buffers,
		Registry:   opts.Registry,
		Logger:     log,
		Check:      writeback.Validate,
	}
	if cfg.FormatOnSave {
		lo.Format = writeback.Formatter(opts.ModulePath)
	}
	w := &Workspace{
		ctrl:     lifecycle.New(lo),
		log:      log,
		maxDepth: cfg.Delta.MaxDepth,
		subs:     make(map[uint64]func(Event)),
	}
	for _, p := range cfg.Projects {
		if err := w.ctrl.AddProject(ctx, p.Name, storage.NewOS(p.Path)); err != nil {
			return nil, fmt.Errorf("add project %s: %w", p.Name, err)
		}
	}
	return w, nil
}

// Controller exposes the lifecycle controller, for statistics and tests.
func (w *Workspace) Controller() *lifecycle.Controller { return w.ctrl }

// Subscribe registers fn for every future event. Listeners run
// synchronously on the goroutine that completed the operation, after its
// locks are released. The returned func removes the subscription.
func (w *Workspace) Subscribe(fn func(Event)) (cancel func()) {
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			w.subMu.Unlock()
		})
	}
}

func (w *Workspace) dispatch(op Op, d *delta.Delta) {
	if d.Empty() {
		return
	}
	ev := Event{ID: uuid.New(), Op: op, Delta: d, At: time.Now()}

	w.subMu.Lock()
	fns := make([]func(Event), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.subMu.Unlock()

	w.log.Debug("dispatch", "op", string(op), "id", ev.ID.String(), "root", d.Handle.String())
	for _, fn := range fns {
		fn(ev)
	}
}

// mutate runs fn under the lock of scope's root between a snapshot and a
// diff of scope. With prepare set, scope is opened before the snapshot so
// that only the effect of fn is reported. The delta is returned even when
// fn fails part way.
func (w *Workspace) mutate(ctx context.Context, op Op, scope model.Handle, prepare bool, fn func(*lifecycle.Op) error) (*delta.Delta, error) {
	return w.mutateDepth(ctx, op, scope, w.maxDepth, prepare, fn)
}

func (w *Workspace) mutateDepth(ctx context.Context, op Op, scope model.Handle, depth int, prepare bool, fn func(*lifecycle.Op) error) (*delta.Delta, error) {
	var d *delta.Delta
	err := w.ctrl.Do(ctx, scope, func(o *lifecycle.Op) error {
		if prepare {
			if _, err := o.Open(scope); err != nil && !model.IsNotPresent(err) {
				return err
			}
		}
		snap := delta.Record(o, scope, depth)
		ferr := fn(o)
		d = delta.Diff(snap, o)
		return ferr
	})
	if d != nil {
		w.dispatch(op, d)
	}
	return d, err
}

// projectOf returns the project handle enclosing h.
func projectOf(h model.Handle) (model.Handle, error) {
	p, ok := h.Project()
	if !ok {
		return model.Handle{}, model.NewError(model.NotPresent, "project", h, fmt.Errorf("not inside a project"))
	}
	return p, nil
}

// AddProject registers a project backed by st. The delta covers the model
// root and its projects and is taken under the model root lock.
func (w *Workspace) AddProject(ctx context.Context, name string, st *storage.Storage) (*delta.Delta, error) {
	return w.mutateDepth(ctx, OpAddProject, model.Root(), 1, false, func(o *lifecycle.Op) error {
		return o.AddProject(name, st)
	})
}

// RemoveProject closes a project and forgets it.
func (w *Workspace) RemoveProject(ctx context.Context, name string) (*delta.Delta, error) {
	return w.mutateDepth(ctx, OpRemoveProject, model.Root(), 1, false, func(o *lifecycle.Op) error {
		return o.RemoveProject(name)
	})
}

// Projects lists the registered project names.
func (w *Workspace) Projects() []string { return w.ctrl.Projects() }

// Warm opens every project and its packages. Projects build concurrently;
// each holds only its own lock.
func (w *Workspace) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range w.ctrl.Projects() {
		p := model.Root().Child(model.KindProject, name)
		g.Go(func() error {
			return w.ctrl.Do(ctx, p, func(o *lifecycle.Op) error {
				pb, err := o.Open(p)
				if err != nil {
					return err
				}
				for _, pkg := range pb.Children {
					if _, err := o.Open(pkg); err != nil && !model.IsNotPresent(err) {
						return err
					}
				}
				return nil
			})
		})
	}
	return g.Wait()
}

// Close discards the open state of the element enclosing h, unsaved text
// included.
func (w *Workspace) Close(ctx context.Context, h model.Handle) error {
	return w.ctrl.Do(ctx, h, func(o *lifecycle.Op) error { return o.Close(h) })
}

// Shutdown closes every project.
func (w *Workspace) Shutdown(ctx context.Context) error {
	return w.ctrl.CloseAll(ctx)
}

// Stats reports the state of both caches.
func (w *Workspace) Stats() ([]store.TierStats, store.BufferStats) {
	return w.ctrl.Bodies().Stats(), w.ctrl.Buffers().Stats()
}
