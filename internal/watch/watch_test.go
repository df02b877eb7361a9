package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/skein/internal/config"
	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/workspace"
)

type fakeRefresher struct {
	mu   sync.Mutex
	seen []model.Handle
}

func (f *fakeRefresher) Refresh(_ context.Context, h model.Handle) (*delta.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, h)
	return &delta.Delta{Handle: h}, nil
}

func (f *fakeRefresher) handles() []model.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Handle(nil), f.seen...)
}

func newWatcher(t *testing.T, target Refresher, opts Options) *Watcher {
	t.Helper()
	w, err := New(target, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestFileHandle(t *testing.T) {
	p := model.Root().Child(model.KindProject, "p")

	assert.Equal(t,
		p.Child(model.KindPackage, "").Child(model.KindFile, "main.go"),
		fileHandle("p", "main.go"))
	assert.Equal(t,
		p.Child(model.KindPackage, "a/b").Child(model.KindFile, "c.py"),
		fileHandle("p", "a/b/c.py"))
	assert.Equal(t,
		p.Child(model.KindPackage, "lib").Child(model.KindArtifact, "dep.facts"),
		fileHandle("p", "lib/dep.facts"))
}

func TestResolve_PicksInnermostRoot(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner")
	require.NoError(t, os.Mkdir(inner, 0o755))

	w := newWatcher(t, &fakeRefresher{}, Options{})
	require.NoError(t, w.Add("outer", dir))
	require.NoError(t, w.Add("inner", inner))

	project, rel, ok := w.resolve(filepath.Join(inner, "x", "y.go"))
	require.True(t, ok)
	assert.Equal(t, "inner", project)
	assert.Equal(t, "x/y.go", rel)

	project, rel, ok = w.resolve(filepath.Join(dir, "z.go"))
	require.True(t, ok)
	assert.Equal(t, "outer", project)
	assert.Equal(t, "z.go", rel)

	_, _, ok = w.resolve(filepath.Join(filepath.Dir(dir), "elsewhere.go"))
	assert.False(t, ok)
}

func TestApply_StructuralChangesRefreshProject(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRefresher{}
	w := newWatcher(t, f, Options{Keep: func(name string) bool { return filepath.Ext(name) == ".go" }})
	require.NoError(t, w.Add("p", dir))

	w.apply(context.Background(), []change{
		{path: filepath.Join(dir, "svc", "a.go")},
		{path: filepath.Join(dir, "svc", "notes.txt"), structural: true},
		{path: dir},
	})

	p := model.Root().Child(model.KindProject, "p")
	assert.Equal(t, []model.Handle{
		fileHandle("p", "svc/a.go"),
		p,
	}, f.handles())
}

func TestApply_WritesOnlyRefreshFiles(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRefresher{}
	w := newWatcher(t, f, Options{})
	require.NoError(t, w.Add("p", dir))

	w.apply(context.Background(), []change{{path: filepath.Join(dir, "b.go")}})
	assert.Equal(t, []model.Handle{fileHandle("p", "b.go")}, f.handles())
}

func TestIgnoredDir(t *testing.T) {
	for _, name := range []string{".git", "vendor", "node_modules", "testdata", "__pycache__"} {
		assert.True(t, ignoredDir(name), name)
	}
	assert.False(t, ignoredDir("svc"))
}

func TestRun_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRefresher{}
	w := newWatcher(t, f, Options{Debounce: 200 * time.Millisecond})
	require.NoError(t, w.Add("p", dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "a.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package p\n"), 0o644))
	}

	want := fileHandle("p", "a.go")
	require.Eventually(t, func() bool {
		for _, h := range f.handles() {
			if h == want {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	count := 0
	for _, h := range f.handles() {
		if h == want {
			count++
		}
	}
	assert.Equal(t, 1, count, "a burst of writes refreshes the file once")

	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_RefreshesWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "svc"), 0o755))
	src := filepath.Join(dir, "svc", "a.go")
	require.NoError(t, os.WriteFile(src, []byte("package svc\n\nfunc A() {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws, err := workspace.New(ctx, config.Default(), workspace.Options{})
	require.NoError(t, err)
	_, err = ws.AddProject(ctx, "p", storage.NewOS(dir))
	require.NoError(t, err)

	file := fileHandle("p", "svc/a.go")
	_, err = ws.Body(ctx, file)
	require.NoError(t, err)

	events := make(chan workspace.Event, 16)
	ws.Subscribe(func(ev workspace.Event) { events <- ev })

	w := newWatcher(t, ws, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, w.Add("p", dir))
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(src, []byte("package svc\n\nfunc A() {}\n\nfunc B() {}\n"), 0o644))

	fnB := file.Child(model.KindFunc, "B")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			assert.Equal(t, workspace.OpRefresh, ev.Op)
			if _, ok := ev.Delta.Find(fnB); ok {
				assert.True(t, ws.Exists(ctx, fnB))
				return
			}
		case <-deadline:
			t.Fatal("no refresh event reported the new function")
		}
	}
}
