// Package optimistic applies client-side component changes ahead of server
// confirmation and rolls them back when no confirmation arrives in time.
package optimistic

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

const DefaultRollbackTimeout = 5 * time.Second

// Record is one pending optimistic change.
type Record struct {
	SurfaceID   string                 `json:"surfaceId"`
	ComponentID string                 `json:"componentId"`
	Changes     map[string]any         `json:"changes"`
	Timestamp   time.Time              `json:"timestamp"`
	Snapshot    model.SurfaceComponent `json:"rollbackSnapshot"`

	generation uint64
	timer      *time.Timer
}

// Layer tracks pending optimistic changes keyed by surface and component.
//
// Lock order is the shared surface lock first, then mu. Confirm and
// DropSurface are called by the reconciler with the shared lock held; Apply
// and rollbacks take it themselves.
type Layer struct {
	surfaces *surface.Store
	shared   sync.Locker
	timeout  time.Duration
	now      func() time.Time

	mu         sync.Mutex
	pending    map[string]*Record
	generation uint64
	onRollback func(surfaceID, componentID string)
}

// New returns a Layer writing to surfaces. shared must be the lock that
// serializes every other surface write; nil gives the layer a private one.
func New(surfaces *surface.Store, shared sync.Locker, timeout time.Duration) *Layer {
	if shared == nil {
		shared = &sync.Mutex{}
	}
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	return &Layer{
		surfaces: surfaces,
		shared:   shared,
		timeout:  timeout,
		now:      time.Now,
		pending:  map[string]*Record{},
	}
}

// OnRollback registers fn to run after a rollback is written. fn is called
// without any lock held.
func (l *Layer) OnRollback(fn func(surfaceID, componentID string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRollback = fn
}

// Apply merges changes into the live component and arms a rollback timer
// firing after rollback, or the layer default when rollback is zero. A second
// Apply on the same component keeps the first snapshot and restarts the timer.
// It reports false when the component does not exist.
func (l *Layer) Apply(surfaceID, componentID string, changes map[string]any, rollback time.Duration) bool {
	if rollback <= 0 {
		rollback = l.timeout
	}
	l.shared.Lock()
	defer l.shared.Unlock()

	s, ok := l.surfaces.Get(surfaceID)
	if !ok {
		return false
	}
	current, ok := s.Component(componentID)
	if !ok {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := model.PendingKey(surfaceID, componentID)
	// The new record supersedes the pending one but inherits its snapshot:
	// a rollback always restores the last server-delivered component, never
	// an earlier optimistic value.
	snapshot := current
	if prev, ok := l.pending[key]; ok {
		prev.timer.Stop()
		snapshot = prev.Snapshot
	}
	l.generation++
	gen := l.generation
	rec := &Record{
		SurfaceID:   surfaceID,
		ComponentID: componentID,
		Changes:     changes,
		Timestamp:   l.now().UTC(),
		Snapshot:    snapshot,
		generation:  gen,
	}
	rec.timer = time.AfterFunc(rollback, func() { l.rollback(key, gen) })
	l.pending[key] = rec

	l.surfaces.Put(s.WithComponent(merge(current, changes)))
	return true
}

// merge applies optimistic changes the way setProps does: style merges into
// the component style, structural props are stored raw, everything else is
// wrapped as a bound value.
func merge(c model.SurfaceComponent, changes map[string]any) model.SurfaceComponent {
	props := make(map[string]any, len(changes))
	for k, v := range changes {
		switch k {
		case "style":
			if style, ok := v.(map[string]any); ok {
				c = c.WithStyle(style)
			}
		case "children", "action", "columns":
			props[k] = v
		default:
			props[k] = model.ToBound(v)
		}
	}
	if len(props) > 0 {
		c.Component = c.Component.With(props)
	}
	return c
}

func (l *Layer) rollback(key string, gen uint64) {
	l.shared.Lock()
	l.mu.Lock()
	rec, ok := l.pending[key]
	if !ok || rec.generation != gen {
		l.mu.Unlock()
		l.shared.Unlock()
		return
	}
	delete(l.pending, key)
	hook := l.onRollback
	l.mu.Unlock()

	restored := false
	if s, ok := l.surfaces.Get(rec.SurfaceID); ok {
		if _, ok := s.Component(rec.ComponentID); ok {
			l.surfaces.Put(s.WithComponent(rec.Snapshot))
			restored = true
		}
	}
	l.shared.Unlock()

	if !restored {
		return
	}
	glog.Infof("[optimistic] rolled back %s: no confirmation since %s", key, rec.Timestamp.Format(time.RFC3339Nano))
	if hook != nil {
		hook(rec.SurfaceID, rec.ComponentID)
	}
}

// Confirm discards the pending change for a component, keeping whatever the
// server wrote. The caller holds the shared lock.
func (l *Layer) Confirm(surfaceID, componentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := model.PendingKey(surfaceID, componentID)
	if rec, ok := l.pending[key]; ok {
		rec.timer.Stop()
		delete(l.pending, key)
		glog.V(1).Infof("[optimistic] confirmed %s", key)
	}
}

// DropSurface cancels every pending change on a surface.
func (l *Layer) DropSurface(surfaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.pending {
		if rec.SurfaceID == surfaceID {
			rec.timer.Stop()
			delete(l.pending, key)
		}
	}
}

func (l *Layer) HasPendingUpdate(surfaceID, componentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[model.PendingKey(surfaceID, componentID)]
	return ok
}

// Pending returns the pending changes of one surface, or of every surface
// when surfaceID is empty, ordered by key.
func (l *Layer) Pending(surfaceID string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.pending))
	for key, rec := range l.pending {
		if surfaceID == "" || rec.SurfaceID == surfaceID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec := *l.pending[key]
		rec.timer = nil
		out = append(out, rec)
	}
	return out
}

// Close stops every timer without rolling back.
func (l *Layer) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.pending {
		rec.timer.Stop()
		delete(l.pending, key)
	}
}
