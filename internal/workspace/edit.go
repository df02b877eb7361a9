package workspace

import (
	"context"
	"fmt"

	"github.com/agentic-research/skein/internal/delta"
	"github.com/agentic-research/skein/internal/lifecycle"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/writeback"
)

func requireFile(h model.Handle, op string) error {
	switch h.Kind() {
	case model.KindFile:
		return nil
	case model.KindArtifact:
		return model.NewError(model.ReadOnly, op, h, nil)
	}
	return model.NewError(model.NotPresent, op, h, fmt.Errorf("%s is not a file", h.Kind()))
}

// OpenWorkingCopy opens file over content held only in memory. The file
// need not exist in storage.
func (w *Workspace) OpenWorkingCopy(ctx context.Context, file model.Handle, content []byte) (*delta.Delta, error) {
	if err := requireFile(file, "working copy"); err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpWorkingCopy, file, false, func(o *lifecycle.Op) error {
		_, err := o.OpenWorkingCopy(file, content)
		return err
	})
}

// Edit replaces the whole text of file and reconciles it.
func (w *Workspace) Edit(ctx context.Context, file model.Handle, content []byte) (*delta.Delta, error) {
	if err := requireFile(file, "edit"); err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpEdit, file, true, func(o *lifecycle.Op) error {
		buf, err := o.Buffer(file)
		if err != nil {
			return err
		}
		buf.SetContents(content)
		return o.Rebuild(file)
	})
}

// ReplaceSource replaces the declaration text of member inside its file's
// buffer and reconciles the file.
func (w *Workspace) ReplaceSource(ctx context.Context, member model.Handle, text []byte) (*delta.Delta, error) {
	if !member.Kind().Member() {
		return nil, model.NewError(model.NotPresent, "replace", member, fmt.Errorf("%s is not a member", member.Kind()))
	}
	file := member.Openable()
	if err := requireFile(file, "replace"); err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpEdit, file, true, func(o *lifecycle.Op) error {
		body, err := o.Open(member)
		if err != nil {
			return err
		}
		buf, err := o.Buffer(file)
		if err != nil {
			return err
		}
		if err := writeback.Splice(buf, body.DeclRange, text); err != nil {
			return model.NewError(model.InconsistentState, "replace", member, err)
		}
		return o.Rebuild(file)
	})
}

// Reconcile rebuilds file from its current buffer and reports the syntax
// errors the buffer holds.
func (w *Workspace) Reconcile(ctx context.Context, file model.Handle) (*delta.Delta, []writeback.ValidationError, error) {
	if err := requireFile(file, "reconcile"); err != nil {
		return nil, nil, err
	}
	var problems []writeback.ValidationError
	d, err := w.mutate(ctx, OpReconcile, file, true, func(o *lifecycle.Op) error {
		if err := o.Rebuild(file); err != nil {
			return err
		}
		buf, err := o.Buffer(file)
		if err != nil {
			return err
		}
		name := file.Name()
		if body, ok := o.Lookup(file); ok {
			name = body.Path
		}
		problems = writeback.ASTErrors(ctx, buf.Contents(), name)
		return nil
	})
	return d, problems, err
}

// ReconcileStale reconciles every file whose buffer changed since its body
// was built. It stops at the first failure.
func (w *Workspace) ReconcileStale(ctx context.Context) (int, error) {
	n := 0
	for _, file := range w.ctrl.Stale() {
		if _, _, err := w.Reconcile(ctx, file); err != nil {
			return n, fmt.Errorf("reconcile %s: %w", file, err)
		}
		n++
	}
	return n, nil
}

// Save writes the buffer of file to storage, formatting it when the
// workspace formats on save.
func (w *Workspace) Save(ctx context.Context, file model.Handle) (*delta.Delta, error) {
	if err := requireFile(file, "save"); err != nil {
		return nil, err
	}
	p, err := projectOf(file)
	if err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpSave, p, true, func(o *lifecycle.Op) error {
		return o.Save(file)
	})
}

// CreateFile writes a new file into pkg.
func (w *Workspace) CreateFile(ctx context.Context, pkg model.Handle, name string, content []byte) (model.Handle, *delta.Delta, error) {
	p, err := projectOf(pkg)
	if err != nil {
		return model.Handle{}, nil, err
	}
	var file model.Handle
	d, err := w.mutate(ctx, OpCreate, p, true, func(o *lifecycle.Op) error {
		var err error
		file, err = o.CreateFile(pkg, name, content)
		return err
	})
	return file, d, err
}

// DeleteFile removes file from storage and the model.
func (w *Workspace) DeleteFile(ctx context.Context, file model.Handle) (*delta.Delta, error) {
	p, err := projectOf(file)
	if err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpDelete, p, true, func(o *lifecycle.Op) error {
		return o.DeleteFile(file)
	})
}

// Refresh brings h in line with storage after an external change. Only
// state that is open is refreshed.
func (w *Workspace) Refresh(ctx context.Context, h model.Handle) (*delta.Delta, error) {
	p, err := projectOf(h)
	if err != nil {
		return nil, err
	}
	return w.mutate(ctx, OpRefresh, p, false, func(o *lifecycle.Op) error {
		return o.Refresh(h)
	})
}
