package optimistic

import (
	"sync"
	"testing"
	"time"

	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/reconcile"
	"github.com/g960059/a2ui/internal/surface"
)

func seed(t *testing.T) *surface.Store {
	t.Helper()
	st := surface.NewStore()
	st.Put(surface.New("s1", "input", "", []model.SurfaceComponent{{
		ID: "input",
		Component: model.NewComponent("textField", map[string]any{
			"value": model.LiteralString{Value: "server"},
		}),
	}}))
	return st
}

func valueOf(t *testing.T, st *surface.Store) model.BoundValue {
	t.Helper()
	s, ok := st.Get("s1")
	if !ok {
		t.Fatalf("surface missing")
	}
	c, ok := s.Component("input")
	if !ok {
		t.Fatalf("component missing")
	}
	bv, _ := c.Component.Bound("value")
	return bv
}

func TestRollbackAfterTimeout(t *testing.T) {
	st := seed(t)
	l := New(st, nil, time.Minute)
	defer l.Close()

	rolled := make(chan string, 1)
	l.OnRollback(func(surfaceID, componentID string) { rolled <- model.PendingKey(surfaceID, componentID) })

	if !l.Apply("s1", "input", map[string]any{"value": "typed"}, 100*time.Millisecond) {
		t.Fatalf("apply failed")
	}
	if got := valueOf(t, st); got != (model.LiteralString{Value: "typed"}) {
		t.Fatalf("optimistic value = %#v", got)
	}
	if !l.HasPendingUpdate("s1", "input") {
		t.Fatalf("expected pending update")
	}

	time.Sleep(150 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "server"}) {
		t.Fatalf("value after rollback = %#v", got)
	}
	if l.HasPendingUpdate("s1", "input") {
		t.Fatalf("pending update should be cleared")
	}
	select {
	case key := <-rolled:
		if key != "s1/input" {
			t.Fatalf("rollback hook key = %s", key)
		}
	case <-time.After(time.Second):
		t.Fatalf("rollback hook not called")
	}
}

func TestConfirmCancelsRollback(t *testing.T) {
	st := seed(t)
	l := New(st, nil, time.Minute)
	defer l.Close()

	l.Apply("s1", "input", map[string]any{"value": "typed"}, 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	l.Confirm("s1", "input")

	time.Sleep(150 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "typed"}) {
		t.Fatalf("confirmed value rolled back: %#v", got)
	}
	if l.HasPendingUpdate("s1", "input") {
		t.Fatalf("pending update should be cleared")
	}
}

func TestRepeatedApplyKeepsFirstSnapshot(t *testing.T) {
	st := seed(t)
	l := New(st, nil, time.Minute)
	defer l.Close()

	l.Apply("s1", "input", map[string]any{"value": "a"}, 100*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	l.Apply("s1", "input", map[string]any{"value": "ab"}, 100*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	// The first timer would have fired by now; the restart must hold it off.
	if got := valueOf(t, st); got != (model.LiteralString{Value: "ab"}) {
		t.Fatalf("value = %#v", got)
	}
	time.Sleep(100 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "server"}) {
		t.Fatalf("rollback should restore the server value, got %#v", got)
	}
}

func TestDropSurfaceStopsTimers(t *testing.T) {
	st := seed(t)
	l := New(st, nil, 50*time.Millisecond)
	defer l.Close()

	l.Apply("s1", "input", map[string]any{"value": "typed"}, 0)
	l.DropSurface("s1")
	if len(l.Pending("")) != 0 {
		t.Fatalf("pending not dropped")
	}
	time.Sleep(100 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "typed"}) {
		t.Fatalf("dropped surface was rolled back: %#v", got)
	}
}

func TestApplyMissingComponent(t *testing.T) {
	st := seed(t)
	l := New(st, nil, time.Second)
	defer l.Close()
	if l.Apply("s1", "nope", map[string]any{"value": "x"}, 0) {
		t.Fatalf("apply on a missing component should fail")
	}
	if l.Apply("nope", "input", map[string]any{"value": "x"}, 0) {
		t.Fatalf("apply on a missing surface should fail")
	}
}

func TestRollbackSkipsRemovedComponent(t *testing.T) {
	st := seed(t)
	l := New(st, nil, 50*time.Millisecond)
	defer l.Close()
	l.Apply("s1", "input", map[string]any{"value": "typed"}, 0)
	s, _ := st.Get("s1")
	st.Put(s.WithoutComponent("input"))
	time.Sleep(100 * time.Millisecond)
	s, _ = st.Get("s1")
	if _, ok := s.Component("input"); ok {
		t.Fatalf("rollback resurrected a removed component")
	}
}

func TestPendingRecords(t *testing.T) {
	st := seed(t)
	l := New(st, nil, time.Second)
	defer l.Close()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Apply("s1", "input", map[string]any{"value": "typed", "style": map[string]any{"color": "red"}}, 0)
	recs := l.Pending("s1")
	if len(recs) != 1 {
		t.Fatalf("pending = %d", len(recs))
	}
	rec := recs[0]
	if rec.ComponentID != "input" || !rec.Timestamp.Equal(fixed) {
		t.Fatalf("record = %+v", rec)
	}
	if bv, _ := rec.Snapshot.Component.Bound("value"); bv != (model.LiteralString{Value: "server"}) {
		t.Fatalf("snapshot value = %#v", bv)
	}
	s, _ := st.Get("s1")
	c, _ := s.Component("input")
	if c.Style["color"] != "red" {
		t.Fatalf("style not merged: %v", c.Style)
	}
	if len(l.Pending("other")) != 0 {
		t.Fatalf("surface filter ignored")
	}
}

func TestSharedLockSerializesRollback(t *testing.T) {
	st := seed(t)
	var shared sync.Mutex
	l := New(st, &shared, 30*time.Millisecond)
	defer l.Close()
	l.Apply("s1", "input", map[string]any{"value": "typed"}, 0)

	shared.Lock()
	time.Sleep(60 * time.Millisecond)
	// The timer has fired but is blocked on the shared lock.
	if got := valueOf(t, st); got != (model.LiteralString{Value: "typed"}) {
		shared.Unlock()
		t.Fatalf("rollback ran while the shared lock was held: %#v", got)
	}
	l.Confirm("s1", "input")
	shared.Unlock()

	time.Sleep(30 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "typed"}) {
		t.Fatalf("confirmation under the lock should win: %#v", got)
	}
}

func TestServerUpdateConfirmsThroughReconciler(t *testing.T) {
	st := seed(t)
	var shared sync.Mutex
	l := New(st, &shared, time.Minute)
	defer l.Close()
	r := reconcile.NewReconciler(st, nil, l, nil)

	l.Apply("s1", "input", map[string]any{"value": "typed"}, 80*time.Millisecond)
	shared.Lock()
	r.Apply(model.SurfaceUpdate{SurfaceID: "s1", Components: []model.SurfaceComponent{{
		ID:        "input",
		Component: model.NewComponent("textField", map[string]any{"value": model.LiteralString{Value: "from server"}}),
	}}})
	shared.Unlock()

	time.Sleep(150 * time.Millisecond)
	if got := valueOf(t, st); got != (model.LiteralString{Value: "from server"}) {
		t.Fatalf("value = %#v, want the server value", got)
	}
	if l.HasPendingUpdate("s1", "input") {
		t.Fatalf("pending update should be confirmed")
	}
}
