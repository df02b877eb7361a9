package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/skein/internal/config"
	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/lifecycle"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/storage"
	"github.com/agentic-research/skein/internal/writeback"
)

const aGo = "package svc\n\nfunc A() {}\n\nfunc B(x int) {}\n"

var (
	proj  = model.Root().Child(model.KindProject, "p")
	svc   = proj.Child(model.KindPackage, "svc")
	aFile = svc.Child(model.KindFile, "a.go")
	fnA   = aFile.Child(model.KindFunc, "A")
	fnB   = aFile.Child(model.KindFunc, "B")
)

type recorder struct {
	events []Event
}

func (r *recorder) last(t *testing.T) Event {
	t.Helper()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func newWorkspace(t *testing.T) (*Workspace, *storage.Storage, *recorder) {
	t.Helper()
	ctx := context.Background()
	w, err := New(ctx, config.Default(), Options{})
	require.NoError(t, err)
	rec := &recorder{}
	w.Subscribe(func(ev Event) { rec.events = append(rec.events, ev) })

	st := storage.NewMemory()
	require.NoError(t, st.Write("svc/a.go", []byte(aGo)))
	require.NoError(t, st.Write("svc/b.go", []byte("package svc\n\ntype T struct{}\n")))
	_, err = w.AddProject(ctx, "p", st)
	require.NoError(t, err)
	return w, st, rec
}

func TestAddProject_PublishesAddition(t *testing.T) {
	_, _, rec := newWorkspace(t)
	ev := rec.last(t)
	assert.Equal(t, OpAddProject, ev.Op)
	assert.Equal(t, []model.Handle{proj}, ev.Delta.Added())
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.At.IsZero())
}

func TestAddProject_ConcurrentDeltasStayApart(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx, config.Default(), Options{})
	require.NoError(t, err)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	deltas := make([]*delta.Delta, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			d, err := w.AddProject(ctx, name, storage.NewMemory())
			deltas[i] = d
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, name := range names {
		assert.Equal(t, []model.Handle{model.Root().Child(model.KindProject, name)}, deltas[i].Added(), name)
	}
	assert.ElementsMatch(t, names, w.Projects())
}

func TestSubscribe_Cancel(t *testing.T) {
	w, _, _ := newWorkspace(t)
	n := 0
	cancel := w.Subscribe(func(Event) { n++ })
	ctx := context.Background()

	_, err := w.Edit(ctx, aFile, []byte(aGo+"\nfunc C() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancel()
	cancel()
	_, err = w.Edit(ctx, aFile, []byte(aGo))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEdit_ReportsAddedMember(t *testing.T) {
	w, _, rec := newWorkspace(t)
	ctx := context.Background()

	d, err := w.Edit(ctx, aFile, []byte(aGo+"\nfunc C() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, aFile, d.Handle)
	assert.Equal(t, []model.Handle{aFile.Child(model.KindFunc, "C")}, d.Added())
	assert.Empty(t, d.Removed())
	assert.Empty(t, d.Changed())
	assert.Equal(t, OpEdit, rec.last(t).Op)

	// Nothing reaches storage until save.
	data, err := w.Text(ctx, aFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "func C()")
}

func TestEdit_NoChangePublishesNothing(t *testing.T) {
	w, _, rec := newWorkspace(t)
	before := len(rec.events)
	d, err := w.Edit(context.Background(), aFile, []byte(aGo+"\n// trailing comment\n"))
	require.NoError(t, err)
	assert.True(t, d.Empty(), d.String())
	assert.Len(t, rec.events, before)
}

func TestReplaceSource_ChangesSignature(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()

	d, err := w.ReplaceSource(ctx, fnB, []byte("func B(x, y int) {}"))
	require.NoError(t, err)
	assert.Equal(t, []model.Handle{fnB}, d.Changed())
	n, ok := d.Find(fnB)
	require.True(t, ok)
	assert.True(t, n.Flags.Has(delta.FlagSignature))

	text, err := w.Text(ctx, fnB)
	require.NoError(t, err)
	assert.Equal(t, "func B(x, y int) {}", string(text))
}

func TestReconcile_ReportsSyntaxErrors(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Edit(ctx, aFile, []byte("package svc\n\nfunc A() {}\n\nfunc B( {\n"))
	require.NoError(t, err)

	_, problems, err := w.Reconcile(ctx, aFile)
	require.NoError(t, err)
	require.NotEmpty(t, problems)
	assert.Equal(t, "svc/a.go", problems[0].FilePath)

	_, problems, err = w.Reconcile(ctx, svc.Child(model.KindFile, "b.go"))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestReconcile_ClosedFileIsNotAdded(t *testing.T) {
	w, _, rec := newWorkspace(t)
	ctx := context.Background()
	require.False(t, w.IsOpen(aFile))
	before := len(rec.events)

	d, problems, err := w.Reconcile(ctx, aFile)
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.True(t, d.Empty(), d.String())
	assert.Len(t, rec.events, before)
	assert.True(t, w.IsOpen(fnA))
}

func TestReconcileStale(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.Controller().Do(ctx, aFile, func(o *lifecycle.Op) error {
		buf, err := o.Buffer(aFile)
		if err != nil {
			return err
		}
		buf.SetContents([]byte(aGo + "\nfunc D() {}\n"))
		return nil
	}))
	assert.Equal(t, []model.Handle{aFile}, w.Controller().Stale())
	assert.False(t, w.IsOpen(aFile.Child(model.KindFunc, "D")))

	n, err := w.ReconcileStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, w.Controller().Stale())
	assert.True(t, w.Exists(ctx, aFile.Child(model.KindFunc, "D")))
}

func TestSave_FormatsAndWrites(t *testing.T) {
	w, st, _ := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Edit(ctx, aFile, []byte("package svc\nfunc A()  {}\n"))
	require.NoError(t, err)

	_, err = w.Save(ctx, aFile)
	require.NoError(t, err)
	data, err := st.ReadText("svc/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package svc\n\nfunc A() {}\n", string(data))

	text, err := w.Text(ctx, aFile)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(text), "buffer holds the formatted text")
}

func TestSave_RejectsSyntaxErrors(t *testing.T) {
	w, st, _ := newWorkspace(t)
	ctx := context.Background()
	broken := "package svc\n\nfunc A() {}\n\nfunc B( {\n"
	_, err := w.Edit(ctx, aFile, []byte(broken))
	require.NoError(t, err)

	_, err = w.Save(ctx, aFile)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInconsistentState), "%v", err)
	var syntaxErr *writeback.ValidationError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, "svc/a.go", syntaxErr.FilePath)

	data, err := st.ReadText("svc/a.go")
	require.NoError(t, err)
	assert.Equal(t, aGo, string(data), "storage keeps the last good text")
	text, err := w.Text(ctx, aFile)
	require.NoError(t, err)
	assert.Equal(t, broken, string(text))
}

func TestWorkingCopy_SaveListsFile(t *testing.T) {
	w, st, rec := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Children(ctx, svc)
	require.NoError(t, err)
	fresh := svc.Child(model.KindFile, "n.go")

	d, err := w.OpenWorkingCopy(ctx, fresh, []byte("package svc\n\nfunc N() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, delta.Added, d.Kind)
	assert.Equal(t, OpWorkingCopy, rec.last(t).Op)

	d, err = w.Save(ctx, fresh)
	require.NoError(t, err)
	assert.Contains(t, d.Added(), fresh)
	assert.True(t, st.Exists("svc/n.go"))

	children, err := w.Children(ctx, svc)
	require.NoError(t, err)
	assert.Contains(t, children, fresh)
}

func TestCreateAndDeleteFile(t *testing.T) {
	w, st, _ := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Children(ctx, svc)
	require.NoError(t, err)

	file, d, err := w.CreateFile(ctx, svc, "c.go", []byte("package svc\n\nfunc C() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, svc.Child(model.KindFile, "c.go"), file)
	assert.Equal(t, []model.Handle{file}, d.Added())

	d, err = w.DeleteFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []model.Handle{file}, d.Removed())
	assert.False(t, st.Exists("svc/c.go"))
	assert.False(t, w.Exists(ctx, file))
}

func TestRefresh_ExternalChange(t *testing.T) {
	w, st, _ := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Body(ctx, aFile)
	require.NoError(t, err)

	require.NoError(t, st.Write("svc/a.go", []byte("package svc\n\nfunc A() {}\n\nfunc Z() {}\n")))
	d, err := w.Refresh(ctx, aFile)
	require.NoError(t, err)
	assert.Equal(t, []model.Handle{aFile.Child(model.KindFunc, "Z")}, d.Added())
	assert.Equal(t, []model.Handle{fnB}, d.Removed())
}

func TestNavigation(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()

	h, err := w.Locate(ctx, "p", "svc/a.go")
	require.NoError(t, err)
	assert.Equal(t, aFile, h)
	_, err = w.Locate(ctx, "p", "svc/missing.go")
	assert.True(t, model.IsNotPresent(err))

	at, err := w.ElementAt(ctx, aFile, uint32(strings.Index(aGo, "B(x")))
	require.NoError(t, err)
	assert.Equal(t, fnB, at)
	at, err = w.ElementAt(ctx, aFile, 0)
	require.NoError(t, err)
	assert.Equal(t, aFile, at)

	text, err := w.Text(ctx, fnB)
	require.NoError(t, err)
	assert.Equal(t, "func B(x int) {}", string(text))

	b, err := w.Body(ctx, fnB)
	require.NoError(t, err)
	b.Signature = "mutated"
	again, _ := w.Body(ctx, fnB)
	assert.Equal(t, "(x int)", again.Signature, "bodies handed out are copies")
}

func TestOutline(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()

	n, err := w.Outline(ctx, proj, -1)
	require.NoError(t, err)
	assert.Equal(t, "project", n.Kind)
	require.Len(t, n.Children, 1)
	pkg := n.Children[0]
	assert.Equal(t, "svc", pkg.Name)
	require.Len(t, pkg.Children, 2)
	a := pkg.Children[0]
	assert.Equal(t, "go", a.Language)
	require.Len(t, a.Children, 2)
	assert.Equal(t, "B", a.Children[1].Name)
	assert.Equal(t, "(x int)", a.Children[1].Signature)

	shallow, err := w.Outline(ctx, proj, 1)
	require.NoError(t, err)
	assert.Empty(t, shallow.Children[0].Children)
}

func TestWarm_OpensPackages(t *testing.T) {
	w, _, _ := newWorkspace(t)
	other := storage.NewMemory()
	require.NoError(t, other.Write("lib/l.go", []byte("package lib\n")))
	ctx := context.Background()
	_, err := w.AddProject(ctx, "q", other)
	require.NoError(t, err)

	require.NoError(t, w.Warm(ctx))
	assert.True(t, w.IsOpen(svc))
	assert.True(t, w.IsOpen(model.Root().Child(model.KindProject, "q").Child(model.KindPackage, "lib")))
	assert.False(t, w.IsOpen(aFile), "warming stops at packages")
}

func TestReadOnlyAndMisuse(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()
	art := svc.Child(model.KindArtifact, "x.facts")

	_, err := w.Edit(ctx, art, []byte("x"))
	assert.True(t, errors.Is(err, model.ErrReadOnly))
	_, err = w.ReplaceSource(ctx, aFile, []byte("x"))
	assert.True(t, model.IsNotPresent(err))
	_, err = w.Save(ctx, model.Root())
	assert.True(t, model.IsNotPresent(err))
}

func TestRemoveProject(t *testing.T) {
	w, _, rec := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Body(ctx, aFile)
	require.NoError(t, err)

	d, err := w.RemoveProject(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []model.Handle{proj}, d.Removed())
	assert.Equal(t, OpRemoveProject, rec.last(t).Op)
	assert.False(t, w.IsOpen(aFile))
	assert.Empty(t, w.Projects())
}

func TestShutdownAndStats(t *testing.T) {
	w, _, _ := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Body(ctx, fnA)
	require.NoError(t, err)

	tiers, bufs := w.Stats()
	assert.Len(t, tiers, 4)
	assert.Equal(t, 1, bufs.Len)

	require.NoError(t, w.Shutdown(ctx))
	assert.False(t, w.IsOpen(aFile))
	assert.False(t, w.IsOpen(proj))
}
