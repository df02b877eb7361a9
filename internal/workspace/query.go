package workspace

import (
	"context"
	"path"
	"strings"

	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/lifecycle"
	"github.com/agentic-research/skein/internal/model"
)

// Body returns a copy of the body of h, opening it if needed.
func (w *Workspace) Body(ctx context.Context, h model.Handle) (*model.Body, error) {
	b, err := w.ctrl.Body(ctx, h)
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// Children returns the child handles of h.
func (w *Workspace) Children(ctx context.Context, h model.Handle) ([]model.Handle, error) {
	b, err := w.Body(ctx, h)
	if err != nil {
		return nil, err
	}
	return b.Children, nil
}

// Exists reports whether h names a live element.
func (w *Workspace) Exists(ctx context.Context, h model.Handle) bool {
	_, err := w.ctrl.Body(ctx, h)
	return err == nil
}

// IsOpen reports whether h is open, without opening anything.
func (w *Workspace) IsOpen(h model.Handle) bool { return w.ctrl.IsOpen(h) }

// Text returns the source of a file or the declaration text of a member.
func (w *Workspace) Text(ctx context.Context, h model.Handle) ([]byte, error) {
	var text []byte
	err := w.ctrl.Do(ctx, h, func(o *lifecycle.Op) error {
		var err error
		text, err = o.Text(h)
		return err
	})
	return text, err
}

// ElementAt returns the innermost member of file whose declaration covers
// offset, or file itself.
func (w *Workspace) ElementAt(ctx context.Context, file model.Handle, offset uint32) (model.Handle, error) {
	found := file
	err := w.ctrl.Do(ctx, file, func(o *lifecycle.Op) error {
		b, err := o.Open(file)
		if err != nil {
			return err
		}
		for {
			next, ok := model.Handle{}, false
			for _, c := range b.Children {
				cb, err := o.Open(c)
				if err != nil {
					return err
				}
				if cb.DeclRange.Contains(offset) {
					next, b, ok = c, cb, true
					break
				}
			}
			if !ok {
				return nil
			}
			found = next
		}
	})
	if err != nil {
		return model.Handle{}, err
	}
	return found, nil
}

// Locate maps a slash-separated path inside project to the handle of the
// file or fact archive stored there.
func (w *Workspace) Locate(ctx context.Context, project, relPath string) (model.Handle, error) {
	p := path.Clean("/" + strings.ReplaceAll(relPath, "\\", "/"))
	dir, name := path.Split(p)
	dir = strings.Trim(dir, "/")
	kind := model.KindFile
	if ingest.IsArchive(name) {
		kind = model.KindArtifact
	}
	h := model.Root().
		Child(model.KindProject, project).
		Child(model.KindPackage, dir).
		Child(kind, name)
	if _, err := w.ctrl.Body(ctx, h); err != nil {
		return model.Handle{}, err
	}
	return h, nil
}

// Node is one element of an outline.
type Node struct {
	Handle     string   `json:"handle"`
	Key        string   `json:"key"`
	Kind       string   `json:"kind"`
	Name       string   `json:"name"`
	Modifiers  string   `json:"modifiers,omitempty"`
	TypeName   string   `json:"type,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	SuperTypes []string `json:"supertypes,omitempty"`
	Language   string   `json:"language,omitempty"`
	Children   []*Node  `json:"children,omitempty"`
}

// Outline opens h and depth levels below it and returns them as a tree.
// depth 0 returns h alone; a negative depth has no limit.
func (w *Workspace) Outline(ctx context.Context, h model.Handle, depth int) (*Node, error) {
	b, err := w.Body(ctx, h)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Handle:     h.String(),
		Key:        h.Key(),
		Kind:       h.Kind().String(),
		Name:       h.Name(),
		Modifiers:  b.Modifiers.String(),
		TypeName:   b.TypeName,
		Signature:  b.Signature,
		SuperTypes: b.SuperTypes,
		Language:   b.Language,
	}
	if depth == 0 {
		return n, nil
	}
	for _, c := range b.Children {
		cn, err := w.Outline(ctx, c, depth-1)
		if model.IsNotPresent(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}
