package store

import (
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
)

// DefaultBufferCapacity bounds the buffer store when no capacity is given.
const DefaultBufferCapacity = 20

// Buffer holds the text of one source-bearing element.
type Buffer struct {
	mu       sync.Mutex
	owner    model.Handle
	content  []byte
	dirty    bool
	backed   bool
	observer func(*Buffer)
	version  uint64
}

// Owner returns the handle this buffer belongs to.
func (b *Buffer) Owner() model.Handle { return b.owner }

// Contents returns a copy of the current text.
func (b *Buffer) Contents() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.content...)
}

// SetContents replaces the whole text and marks the buffer dirty.
func (b *Buffer) SetContents(content []byte) {
	b.mu.Lock()
	b.content = append([]byte(nil), content...)
	b.dirty = true
	b.version++
	obs := b.observer
	b.mu.Unlock()
	if obs != nil {
		obs(b)
	}
}

// Replace splices text into [start, end) and marks the buffer dirty.
func (b *Buffer) Replace(start, end int, text []byte) error {
	b.mu.Lock()
	if start < 0 || end < start || end > len(b.content) {
		n := len(b.content)
		b.mu.Unlock()
		return fmt.Errorf("replace range [%d,%d) outside buffer of %d bytes", start, end, n)
	}
	next := make([]byte, 0, len(b.content)-(end-start)+len(text))
	next = append(next, b.content[:start]...)
	next = append(next, text...)
	next = append(next, b.content[end:]...)
	b.content = next
	b.dirty = true
	b.version++
	obs := b.observer
	b.mu.Unlock()
	if obs != nil {
		obs(b)
	}
	return nil
}

// Dirty reports whether the buffer holds unsaved changes.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Backed reports whether the buffer was loaded from backing storage.
func (b *Buffer) Backed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backed
}

// Version counts content changes since the buffer was opened.
func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// MarkSaved clears the dirty flag after the content reached storage.
func (b *Buffer) MarkSaved(content []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if content != nil {
		b.content = append([]byte(nil), content...)
	}
	b.dirty = false
	b.backed = true
}

// SetObserver installs fn to be called after every content change. nil
// detaches the current observer.
func (b *Buffer) SetObserver(fn func(*Buffer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

func (b *Buffer) evictable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backed && !b.dirty
}

// BufferStore is a bounded LRU of buffers. Only clean buffers loaded from
// storage are ever evicted; the others may hold the store over capacity.
type BufferStore struct {
	mu  sync.Mutex
	lru *overflowLRU[model.Handle, *Buffer]
	log *slog.Logger

	evictions atomic.Int64
	refusals  atomic.Int64
}

// NewBufferStore creates a buffer store. capacity <= 0 selects the default.
func NewBufferStore(capacity int, log *slog.Logger) *BufferStore {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	if log == nil {
		log = logging.Discard()
	}
	return &BufferStore{lru: newOverflowLRU[model.Handle, *Buffer](capacity), log: log}
}

// Open registers a buffer for h holding content, replacing any existing one.
// backed is false for text supplied in memory with no file behind it.
func (s *BufferStore) Open(h model.Handle, content []byte, backed bool) *Buffer {
	b := &Buffer{owner: h, content: append([]byte(nil), content...), backed: backed}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lru.peek(h); ok {
		old.SetObserver(nil)
	}
	s.lru.put(h, b)
	s.evictLocked(h)
	return b
}

// Get returns the buffer of h and marks it most recently used.
func (s *BufferStore) Get(h model.Handle) (*Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.get(h)
}

// Close discards the buffer of h, unsaved changes included.
func (s *BufferStore) Close(h model.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lru.remove(h)
	if ok {
		b.SetObserver(nil)
	}
	return ok
}

// All yields every open buffer from least to most recently used. The set is
// captured before iteration so the callback may close buffers.
func (s *BufferStore) All() iter.Seq[*Buffer] {
	s.mu.Lock()
	keys := s.lru.keys()
	bufs := make([]*Buffer, 0, len(keys))
	for _, k := range keys {
		if b, ok := s.lru.peek(k); ok {
			bufs = append(bufs, b)
		}
	}
	s.mu.Unlock()

	return func(yield func(*Buffer) bool) {
		for _, b := range bufs {
			if !yield(b) {
				return
			}
		}
	}
}

// Len returns the number of open buffers.
func (s *BufferStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.len()
}

// Stats snapshots the buffer store counters.
func (s *BufferStore) Stats() BufferStats {
	st := BufferStats{Evictions: s.evictions.Load(), Refusals: s.refusals.Load()}
	for b := range s.All() {
		st.Len++
		if b.Dirty() {
			st.Dirty++
		}
	}
	st.Capacity = s.lru.capacity
	return st
}

func (s *BufferStore) evictLocked(keep model.Handle) {
	if s.lru.overflow() == 0 {
		return
	}
	for _, h := range s.lru.candidates(keep) {
		if s.lru.overflow() == 0 {
			return
		}
		b, _ := s.lru.peek(h)
		if !b.evictable() {
			s.refusals.Add(1)
			s.log.Debug("buffer eviction refused", "buffer", h.String())
			continue
		}
		b.SetObserver(nil)
		s.lru.remove(h)
		s.evictions.Add(1)
	}
}
