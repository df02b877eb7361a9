// Package watch feeds file system changes under project directories back
// into the model as refreshes.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
)

// DefaultDebounce is how long the watcher waits for a burst of changes to
// settle before refreshing.
const DefaultDebounce = 100 * time.Millisecond

// Refresher is the part of a workspace the watcher drives.
type Refresher interface {
	Refresh(ctx context.Context, h model.Handle) (*delta.Delta, error)
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Keep selects the file names worth refreshing. nil keeps everything.
	Keep   func(name string) bool
	Logger *slog.Logger
}

type change struct {
	path       string
	structural bool // created, removed or renamed
}

// Watcher turns fsnotify events into debounced Refresh calls.
type Watcher struct {
	target   Refresher
	fsw      *fsnotify.Watcher
	keep     func(string) bool
	debounce time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	roots map[string]string // absolute dir -> project name

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher that refreshes target. Call Add for each project
// and then Run.
func New(target Refresher, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Watcher{
		target:   target,
		fsw:      fsw,
		keep:     opts.Keep,
		debounce: opts.Debounce,
		log:      opts.Logger,
		roots:    make(map[string]string),
		done:     make(chan struct{}),
	}, nil
}

// Add watches dir and every directory below it as project.
func (w *Watcher) Add(project, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = project
	w.mu.Unlock()
	return w.addRecursive(abs)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func ignoredDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "vendor", "node_modules", "testdata", "__pycache__":
		return true
	}
	return false
}

// Close stops Run and releases the fsnotify watcher.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// Run processes events until ctx is done or Close is called. Pending
// changes are flushed before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 {
			batch := make([]change, 0, len(pending))
			for p, s := range pending {
				batch = append(batch, change{path: p, structural: s})
			}
			clear(pending)
			w.apply(ctx, batch)
		}
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case <-w.done:
			flush()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			structural := ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
			pending[ev.Name] = pending[ev.Name] || structural
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !ignoredDir(info.Name()) {
					if err := w.addRecursive(ev.Name); err != nil {
						w.log.Warn("watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// resolve maps an absolute path to the project it belongs to and its
// slash-separated path inside the project.
func (w *Watcher) resolve(p string) (string, string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	best, project := "", ""
	for root, name := range w.roots {
		if (p == root || strings.HasPrefix(p, root+string(filepath.Separator))) && len(root) > len(best) {
			best, project = root, name
		}
	}
	if best == "" {
		return "", "", false
	}
	rel, err := filepath.Rel(best, p)
	if err != nil {
		return "", "", false
	}
	return project, filepath.ToSlash(rel), true
}

// fileHandle is the handle of the file or archive stored at rel.
func fileHandle(project, rel string) model.Handle {
	dir, name := path.Split(rel)
	kind := model.KindFile
	if ingest.IsArchive(name) {
		kind = model.KindArtifact
	}
	return model.Root().
		Child(model.KindProject, project).
		Child(model.KindPackage, strings.TrimSuffix(dir, "/")).
		Child(kind, name)
}

// apply refreshes every changed file, then every project whose layout may
// have changed.
func (w *Watcher) apply(ctx context.Context, batch []change) {
	sort.Slice(batch, func(i, j int) bool { return batch[i].path < batch[j].path })
	projects := make(map[string]bool)
	for _, c := range batch {
		project, rel, ok := w.resolve(c.path)
		if !ok || rel == "." {
			continue
		}
		if c.structural {
			projects[project] = true
		}
		if w.keep != nil && !w.keep(path.Base(rel)) {
			continue
		}
		h := fileHandle(project, rel)
		if _, err := w.target.Refresh(ctx, h); err != nil && !model.IsNotPresent(err) {
			w.log.Warn("refresh failed", "element", h.String(), "error", err)
		}
	}
	names := make([]string, 0, len(projects))
	for p := range projects {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, name := range names {
		p := model.Root().Child(model.KindProject, name)
		if _, err := w.target.Refresh(ctx, p); err != nil && !model.IsNotPresent(err) {
			w.log.Warn("refresh failed", "element", p.String(), "error", err)
		}
	}
}
