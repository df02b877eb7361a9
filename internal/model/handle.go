package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Handle identifies a model element by its parent chain, kind, name and
// occurrence index. It is a comparable value: two handles are equal iff every
// component of the chain matches. A handle never refers to cached state and
// may name an element that does not exist.
//
// The chain is encoded in a single key made of "/"-separated segments of the
// form "<kind code>:<escaped name>#<occurrence>".
type Handle struct {
	key string
}

// Root returns the handle of the model root.
func Root() Handle {
	return Handle{key: segment(KindModel, "", 1)}
}

func segment(k Kind, name string, occurrence int) string {
	return string(k.code()) + ":" + url.PathEscape(name) + "#" + strconv.Itoa(occurrence)
}

// ParseHandle decodes a key produced by Handle.Key.
func ParseHandle(key string) (Handle, error) {
	if key == "" {
		return Handle{}, fmt.Errorf("empty handle key")
	}
	for i, seg := range strings.Split(key, "/") {
		k, _, occ, err := parseSegment(seg)
		if err != nil {
			return Handle{}, fmt.Errorf("segment %d of %q: %w", i, key, err)
		}
		if (i == 0) != (k == KindModel) {
			return Handle{}, fmt.Errorf("segment %d of %q: misplaced %s", i, key, k)
		}
		if occ < 1 {
			return Handle{}, fmt.Errorf("segment %d of %q: occurrence %d", i, key, occ)
		}
	}
	return Handle{key: key}, nil
}

func parseSegment(seg string) (Kind, string, int, error) {
	colon := strings.IndexByte(seg, ':')
	hash := strings.LastIndexByte(seg, '#')
	if colon != 1 || hash < colon {
		return KindInvalid, "", 0, fmt.Errorf("malformed segment %q", seg)
	}
	k := kindFromCode(seg[0])
	if k == KindInvalid {
		return KindInvalid, "", 0, fmt.Errorf("unknown kind code %q", seg[0])
	}
	name, err := url.PathUnescape(seg[colon+1 : hash])
	if err != nil {
		return KindInvalid, "", 0, err
	}
	occ, err := strconv.Atoi(seg[hash+1:])
	if err != nil {
		return KindInvalid, "", 0, err
	}
	return k, name, occ, nil
}

func (h Handle) last() (Kind, string, int) {
	seg := h.key
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	k, name, occ, err := parseSegment(seg)
	if err != nil {
		return KindInvalid, "", 0
	}
	return k, name, occ
}

// Key returns the encoded form of the handle, suitable for ParseHandle.
func (h Handle) Key() string { return h.key }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.key == "" }

// Kind returns the element kind.
func (h Handle) Kind() Kind {
	if h.key == "" {
		return KindInvalid
	}
	k, _, _ := h.last()
	return k
}

// Name returns the element name.
func (h Handle) Name() string {
	_, name, _ := h.last()
	return name
}

// Occurrence returns the 1-based index of this element among siblings with
// the same kind and name.
func (h Handle) Occurrence() int {
	_, _, occ := h.last()
	return occ
}

// Parent returns the enclosing element, or the zero Handle for the root.
func (h Handle) Parent() Handle {
	i := strings.LastIndexByte(h.key, '/')
	if i < 0 {
		return Handle{}
	}
	return Handle{key: h.key[:i]}
}

// Child returns the handle of the first child with the given kind and name.
func (h Handle) Child(k Kind, name string) Handle {
	return h.ChildN(k, name, 1)
}

// ChildN returns the handle of the occurrence-th child with the given kind
// and name.
func (h Handle) ChildN(k Kind, name string, occurrence int) Handle {
	if occurrence < 1 {
		occurrence = 1
	}
	return Handle{key: h.key + "/" + segment(k, name, occurrence)}
}

// Depth is 0 for the root and grows by one per level.
func (h Handle) Depth() int {
	if h.key == "" {
		return -1
	}
	return strings.Count(h.key, "/")
}

// IsAncestorOf reports whether h strictly encloses other.
func (h Handle) IsAncestorOf(other Handle) bool {
	return h.key != "" && len(other.key) > len(h.key) &&
		strings.HasPrefix(other.key, h.key) && other.key[len(h.key)] == '/'
}

// Ancestor returns the nearest self-or-ancestor of the given kind.
func (h Handle) Ancestor(k Kind) (Handle, bool) {
	for cur := h; !cur.IsZero(); cur = cur.Parent() {
		if cur.Kind() == k {
			return cur, true
		}
	}
	return Handle{}, false
}

// Project returns the project containing h, or h itself when it is a project.
func (h Handle) Project() (Handle, bool) {
	return h.Ancestor(KindProject)
}

// Openable returns the nearest self-or-ancestor whose kind is openable.
func (h Handle) Openable() Handle {
	for cur := h; !cur.IsZero(); cur = cur.Parent() {
		if cur.Kind().Openable() {
			return cur
		}
	}
	return Handle{}
}

// ReadOnly reports whether the element lives inside a fact archive.
func (h Handle) ReadOnly() bool {
	_, ok := h.Ancestor(KindArtifact)
	return ok
}

// String renders a readable path such as "core/pkg/util/a.go/Server.Run".
func (h Handle) String() string {
	if h.key == "" {
		return "<zero>"
	}
	segs := strings.Split(h.key, "/")
	parts := make([]string, 0, len(segs))
	for _, seg := range segs[1:] {
		k, name, occ, err := parseSegment(seg)
		if err != nil {
			parts = append(parts, seg)
			continue
		}
		if k == KindPackage && name == "" {
			name = "."
		}
		if occ > 1 {
			name = fmt.Sprintf("%s#%d", name, occ)
		}
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return "<model>"
	}
	return strings.Join(parts, "/")
}
