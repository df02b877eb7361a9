package store

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
)

// Tier is a segment of the body store holding one granularity of element.
type Tier int

const (
	TierRoot      Tier = iota // model and projects, pinned
	TierNamespace             // packages
	TierFile                  // files and artifacts
	TierMember                // declarations
	numTiers
)

var tierNames = [numTiers]string{"root", "namespace", "file", "member"}

func (t Tier) String() string {
	if t >= 0 && t < numTiers {
		return tierNames[t]
	}
	return "unknown"
}

// Tiers lists every tier in routing order.
func Tiers() []Tier { return []Tier{TierRoot, TierNamespace, TierFile, TierMember} }

// TierOf routes an element kind to its tier.
func TierOf(k model.Kind) Tier {
	switch k {
	case model.KindPackage:
		return TierNamespace
	case model.KindFile, model.KindArtifact:
		return TierFile
	case model.KindImport, model.KindType, model.KindField, model.KindFunc:
		return TierMember
	default:
		return TierRoot
	}
}

// Capacities bounds the evicting tiers. Zero pins a tier.
type Capacities struct {
	Namespace int
	File      int
	Member    int
}

// DefaultCapacities returns the stock tier bounds.
func DefaultCapacities() Capacities {
	return Capacities{Namespace: 500, File: 2000, Member: 20 * 2000}
}

// Closer tears down victim so that its body leaves the store. cause is the
// handle whose insertion pushed the tier over capacity. Returning false
// refuses the eviction; the store then tries the next-oldest entry.
type Closer func(victim, cause model.Handle) bool

type tier struct {
	mu  sync.Mutex
	lru *overflowLRU[model.Handle, *model.Body]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	refusals  atomic.Int64
}

// BodyStore caches element bodies keyed by handle, segmented into tiers.
// Each tier has its own lock; the closer is always invoked with no store
// lock held so it may call back into the store.
type BodyStore struct {
	tiers [numTiers]*tier
	log   *slog.Logger

	closerMu sync.RWMutex
	closer   Closer

	// Ownership index: openable -> bitmap of interned member ids.
	idxMu   sync.Mutex
	owned   map[model.Handle]*roaring.Bitmap
	ids     map[model.Handle]uint32
	handles []model.Handle // id -> handle, zero when freed
	free    []uint32       // released ids, reused before handles grows
}

// NewBodyStore creates a store with the given bounds.
func NewBodyStore(caps Capacities, log *slog.Logger) *BodyStore {
	if log == nil {
		log = logging.Discard()
	}
	s := &BodyStore{
		log:   log,
		owned: make(map[model.Handle]*roaring.Bitmap),
		ids:   make(map[model.Handle]uint32),
	}
	s.tiers[TierRoot] = &tier{lru: newOverflowLRU[model.Handle, *model.Body](0)}
	s.tiers[TierNamespace] = &tier{lru: newOverflowLRU[model.Handle, *model.Body](caps.Namespace)}
	s.tiers[TierFile] = &tier{lru: newOverflowLRU[model.Handle, *model.Body](caps.File)}
	s.tiers[TierMember] = &tier{lru: newOverflowLRU[model.Handle, *model.Body](caps.Member)}
	return s
}

// SetCloser installs the eviction hook.
func (s *BodyStore) SetCloser(fn Closer) {
	s.closerMu.Lock()
	defer s.closerMu.Unlock()
	s.closer = fn
}

func (s *BodyStore) getCloser() Closer {
	s.closerMu.RLock()
	defer s.closerMu.RUnlock()
	return s.closer
}

func (s *BodyStore) tierFor(h model.Handle) *tier {
	return s.tiers[TierOf(h.Kind())]
}

// Get returns the body of h and marks it most recently used.
func (s *BodyStore) Get(h model.Handle) (*model.Body, bool) {
	t := s.tierFor(h)
	t.mu.Lock()
	b, ok := t.lru.get(h)
	t.mu.Unlock()
	if ok {
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	return b, ok
}

// Peek returns the body of h without touching recency or statistics.
func (s *BodyStore) Peek(h model.Handle) (*model.Body, bool) {
	t := s.tierFor(h)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.peek(h)
}

// Contains reports whether a body is registered for h.
func (s *BodyStore) Contains(h model.Handle) bool {
	_, ok := s.Peek(h)
	return ok
}

// Put registers b as the body of h, replacing any previous body, then
// evicts from h's tier if it went over capacity.
func (s *BodyStore) Put(h model.Handle, b *model.Body) {
	t := s.tierFor(h)
	t.mu.Lock()
	t.lru.put(h, b)
	over := t.lru.overflow() > 0
	t.mu.Unlock()

	if h.Kind().Member() {
		s.index(h)
	}
	if over {
		s.evict(t, h)
	}
}

// Remove drops the body of h.
func (s *BodyStore) Remove(h model.Handle) (*model.Body, bool) {
	t := s.tierFor(h)
	t.mu.Lock()
	b, ok := t.lru.remove(h)
	t.mu.Unlock()
	if ok && h.Kind().Member() {
		s.unindex(h)
	}
	return b, ok
}

// RemoveOwned drops every member body registered under openable and returns
// their handles.
func (s *BodyStore) RemoveOwned(openable model.Handle) []model.Handle {
	s.idxMu.Lock()
	bm, ok := s.owned[openable]
	var members []model.Handle
	if ok {
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			if int(id) >= len(s.handles) {
				continue
			}
			h := s.handles[id]
			if h.IsZero() {
				continue
			}
			members = append(members, h)
			s.release(id)
			delete(s.ids, h)
		}
		delete(s.owned, openable)
	}
	s.idxMu.Unlock()

	t := s.tiers[TierMember]
	t.mu.Lock()
	for _, h := range members {
		t.lru.remove(h)
	}
	t.mu.Unlock()
	return members
}

// OwnedCount returns the number of member bodies registered under openable.
func (s *BodyStore) OwnedCount(openable model.Handle) int {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if bm, ok := s.owned[openable]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

func (s *BodyStore) index(h model.Handle) {
	owner := h.Openable()
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	id, ok := s.ids[h]
	if !ok {
		if n := len(s.free); n > 0 {
			id = s.free[n-1]
			s.free = s.free[:n-1]
		} else {
			id = uint32(len(s.handles))
			s.handles = append(s.handles, model.Handle{})
		}
		s.ids[h] = id
		s.handles[id] = h
	}
	bm, exists := s.owned[owner]
	if !exists {
		bm = roaring.New()
		s.owned[owner] = bm
	}
	bm.Add(id)
}

func (s *BodyStore) unindex(h model.Handle) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	id, ok := s.ids[h]
	if !ok {
		return
	}
	delete(s.ids, h)
	s.release(id)
	owner := h.Openable()
	if bm, exists := s.owned[owner]; exists {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(s.owned, owner)
		}
	}
}

// release frees id for reuse. Callers hold idxMu.
func (s *BodyStore) release(id uint32) {
	s.handles[id] = model.Handle{}
	s.free = append(s.free, id)
}

// evict walks t from its least recently used end until it is back within
// capacity or every candidate has refused.
func (s *BodyStore) evict(t *tier, cause model.Handle) {
	closer := s.getCloser()

	t.mu.Lock()
	victims := t.lru.candidates(cause)
	t.mu.Unlock()

	for _, v := range victims {
		t.mu.Lock()
		over := t.lru.overflow()
		_, present := t.lru.peek(v)
		t.mu.Unlock()
		if over == 0 {
			return
		}
		if !present {
			continue
		}
		if closer == nil {
			if _, ok := s.Remove(v); ok {
				t.evictions.Add(1)
			}
			continue
		}
		if closer(v, cause) {
			t.evictions.Add(1)
			continue
		}
		t.refusals.Add(1)
		s.log.Debug("eviction refused", "victim", v.String(), "cause", cause.String())
	}
}

// Len returns the number of bodies in a tier.
func (s *BodyStore) Len(tr Tier) int {
	t := s.tiers[tr]
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.len()
}

// Handles lists the handles of a tier from least to most recently used.
func (s *BodyStore) Handles(tr Tier) []model.Handle {
	t := s.tiers[tr]
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.keys()
}

// Stats snapshots the counters of every tier.
func (s *BodyStore) Stats() []TierStats {
	out := make([]TierStats, 0, numTiers)
	for _, tr := range Tiers() {
		t := s.tiers[tr]
		t.mu.Lock()
		st := TierStats{
			Tier:     tr,
			Len:      t.lru.len(),
			Capacity: t.lru.capacity,
		}
		t.mu.Unlock()
		st.Hits = t.hits.Load()
		st.Misses = t.misses.Load()
		st.Evictions = t.evictions.Load()
		st.Refusals = t.refusals.Load()
		out = append(out, st)
	}
	return out
}
