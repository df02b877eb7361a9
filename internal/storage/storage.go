// Package storage reads and writes the files behind projects through a
// billy filesystem, so the engine runs the same against disk and memory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNotExist is returned (wrapped) when a path has no file behind it.
var ErrNotExist = fs.ErrNotExist

// Entry describes one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Storage is the backing store of one project tree. Paths are slash
// separated and relative to the tree root.
type Storage struct {
	fs billy.Filesystem
}

// New wraps an existing billy filesystem.
func New(fsys billy.Filesystem) *Storage {
	return &Storage{fs: fsys}
}

// NewOS opens the directory dir on disk.
func NewOS(dir string) *Storage {
	return New(osfs.New(dir))
}

// NewMemory returns an empty in-memory tree.
func NewMemory() *Storage {
	return New(memfs.New())
}

// Filesystem exposes the underlying billy filesystem.
func (s *Storage) Filesystem() billy.Filesystem { return s.fs }

// Root returns the location of the tree, when it has one.
func (s *Storage) Root() string { return s.fs.Root() }

func clean(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// ReadText returns the content of the file at p.
func (s *Storage) ReadText(p string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, clean(p))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the content of p atomically: the data goes to a temp file
// in the same directory which is then renamed over the target.
func (s *Storage) Write(p string, content []byte) error {
	p = clean(p)
	dir := path.Dir(p)
	if dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	tmp, err := util.TempFile(s.fs, dir, ".skein-write-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", p, err)
	}
	return nil
}

// Remove deletes the file at p.
func (s *Storage) Remove(p string) error {
	if err := s.fs.Remove(clean(p)); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// Stat returns the size and type of p.
func (s *Storage) Stat(p string) (Entry, error) {
	info, err := s.fs.Stat(clean(p))
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return Entry{Name: info.Name(), IsDir: info.IsDir(), Size: info.Size()}, nil
}

// Exists reports whether p names a file or directory.
func (s *Storage) Exists(p string) bool {
	_, err := s.fs.Stat(clean(p))
	return err == nil
}

// ReadDir lists the directory p sorted by name. Hidden entries are skipped.
func (s *Storage) ReadDir(p string) ([]Entry, error) {
	dir := clean(p)
	if dir == "" {
		dir = "."
	}
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", p, err)
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		out = append(out, Entry{Name: info.Name(), IsDir: info.IsDir(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Dirs walks the tree and returns every directory (root included as "")
// for which keep reports true on at least one of its file names.
func (s *Storage) Dirs(keep func(name string) bool) ([]string, error) {
	var dirs []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.ReadDir(dir)
		if err != nil {
			return err
		}
		matched := false
		for _, e := range entries {
			if e.IsDir {
				if skipDir(e.Name) {
					continue
				}
				if err := walk(path.Join(dir, e.Name)); err != nil {
					return err
				}
				continue
			}
			if !matched && keep(e.Name) {
				matched = true
			}
		}
		if matched {
			dirs = append(dirs, dir)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

func skipDir(name string) bool {
	switch name {
	case "vendor", "node_modules", "testdata", "__pycache__":
		return true
	}
	return false
}

// IsNotExist reports whether err means a missing path.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist)
}
