package datamodel

import (
	"sort"
	"sync"

	"github.com/g960059/a2ui/internal/model"
)

// Listener is called after a write with the new document.
type Listener func(doc Document)

// Store is the reactive data document of one surface. Writes swap the whole
// document, so readers observe either all or none of a batch.
type Store struct {
	mu        sync.RWMutex
	doc       Document
	version   uint64
	listeners map[uint64]Listener
	nextID    uint64
}

func NewStore(entries []model.DataEntry) *Store {
	return &Store{doc: NewDocument(entries), listeners: map[uint64]Listener{}}
}

func (s *Store) Get(path string) (any, bool) {
	return s.Snapshot().Get(path)
}

// Snapshot returns the current document. It stays valid after later writes.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Version increments on every write that changes the document.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Set(path string, value any) {
	s.swap(func(d Document) Document { return d.Set(path, value) })
}

// Update applies a batch of entries as one write.
func (s *Store) Update(entries []model.DataEntry) {
	if len(entries) == 0 {
		return
	}
	s.swap(func(d Document) Document { return d.Apply(entries) })
}

// Reset discards the document and rebuilds it from entries.
func (s *Store) Reset(entries []model.DataEntry) {
	s.swap(func(Document) Document { return NewDocument(entries) })
}

func (s *Store) Remove(path string) {
	s.swap(func(d Document) Document { return d.Remove(path) })
}

// Subscribe registers fn for change notifications. The returned func cancels
// the subscription.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) swap(fn func(Document) Document) {
	s.mu.Lock()
	next := fn(s.doc)
	if next.same(s.doc) {
		s.mu.Unlock()
		return
	}
	s.doc = next
	s.version++
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// Registry keeps one Store per surface.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: map[string]*Store{}}
}

// Init resets the store of a surface, creating it if needed. Existing
// subscribers stay attached.
func (r *Registry) Init(surfaceID string, entries []model.DataEntry) *Store {
	r.mu.Lock()
	st, ok := r.stores[surfaceID]
	if !ok {
		st = NewStore(entries)
		r.stores[surfaceID] = st
		r.mu.Unlock()
		return st
	}
	r.mu.Unlock()
	st.Reset(entries)
	return st
}

func (r *Registry) Get(surfaceID string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[surfaceID]
	return st, ok
}

func (r *Registry) Drop(surfaceID string) {
	r.mu.Lock()
	delete(r.stores, surfaceID)
	r.mu.Unlock()
}

func (r *Registry) SurfaceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
