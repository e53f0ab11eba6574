package surface

import "sync"

// Store maps surface ids to their current Surface. It remembers creation
// order so the oldest live surface can be addressed without an id.
type Store struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
	order    []string
}

func NewStore() *Store {
	return &Store{surfaces: map[string]Surface{}}
}

func (st *Store) Get(id string) (Surface, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.surfaces[id]
	return s, ok
}

// Put stores s. Replacing an existing surface keeps its creation position.
func (st *Store) Put(s Surface) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.surfaces[s.ID()]; !ok {
		st.order = append(st.order, s.ID())
	}
	st.surfaces[s.ID()] = s
}

func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.surfaces[id]; !ok {
		return false
	}
	delete(st.surfaces, id)
	for i, existing := range st.order {
		if existing == id {
			st.order = append(st.order[:i:i], st.order[i+1:]...)
			break
		}
	}
	return true
}

// First returns the oldest surface still present.
func (st *Store) First() (Surface, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(st.order) == 0 {
		return Surface{}, false
	}
	return st.surfaces[st.order[0]], true
}

// List returns surfaces in creation order.
func (st *Store) List() []Surface {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Surface, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.surfaces[id])
	}
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.surfaces)
}
