package ingest

import (
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/g960059/a2ui/internal/action"
	"github.com/g960059/a2ui/internal/model"
)

const (
	EventApplied     = "applied"
	EventSideChannel = "side_channel"
	EventRollback    = "rollback"
	EventDispatch    = "dispatch"
	EventUserAction  = "user_action"
)

// Event is what subscribers of an engine observe.
type Event struct {
	Kind        string              `json:"kind"`
	SurfaceID   string              `json:"surfaceId,omitempty"`
	ComponentID string              `json:"componentId,omitempty"`
	EntryID     string              `json:"entryId,omitempty"`
	Seq         *int64              `json:"seq,omitempty"`
	Message     model.ServerMessage `json:"-"`
	Dispatch    *action.Dispatch    `json:"dispatch,omitempty"`
	UserAction  *model.UserAction   `json:"userAction,omitempty"`
}

// hub fans events out to subscribers. Slow subscribers lose events rather
// than stall the engine.
type hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]chan Event
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{buffer: buffer, subs: map[string]chan Event{}}
}

func (h *hub) subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			glog.Infof("[ingest] subscriber %s is full, dropped %s event for %q", id, ev.Kind, ev.SurfaceID)
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
