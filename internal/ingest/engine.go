// Package ingest owns the single mutation queue of the daemon. Every server
// message, optimistic update and rollback is applied under one lock, in the
// order it arrives.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/g960059/a2ui/internal/action"
	"github.com/g960059/a2ui/internal/config"
	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/db"
	"github.com/g960059/a2ui/internal/gather"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/optimistic"
	"github.com/g960059/a2ui/internal/reconcile"
	"github.com/g960059/a2ui/internal/render"
	"github.com/g960059/a2ui/internal/security"
	"github.com/g960059/a2ui/internal/surface"
	"github.com/g960059/a2ui/internal/wire"
)

var (
	ErrOutOfOrder        = db.ErrOutOfOrder
	ErrSurfaceNotFound   = errors.New("surface not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrNotWidgetInstance = errors.New("component is not a widget instance")
)

// WidgetDirectory resolves widget instances and learns which widget an
// instance renders when a surface places one.
type WidgetDirectory interface {
	render.WidgetSource
	BindInstance(ctx context.Context, inst model.WidgetInstance) error
}

// Result reports what happened to one applied message.
type Result struct {
	EntryID   string `json:"entryId"`
	SurfaceID string `json:"surfaceId,omitempty"`
	Type      string `json:"type"`
	Changed   bool   `json:"changed"`
	Skipped   string `json:"skipped,omitempty"`
}

type Engine struct {
	mu      sync.Mutex
	store   *db.Store
	cfg     config.Config
	widgets WidgetDirectory

	surfaces   *surface.Store
	data       *datamodel.Registry
	pending    *optimistic.Layer
	reconciler *reconcile.Reconciler
	gatherer   *gather.Gatherer
	builder    *action.Builder
	provider   *action.Provider
	events     *hub

	// cursors holds the last seq per surface when there is no store.
	cursors map[string]int64
	state   map[string]any
	now     func() time.Time
}

func NewEngine(ctx context.Context, store *db.Store, cfg config.Config) *Engine {
	return NewEngineWithWidgets(ctx, store, cfg, nil)
}

func NewEngineWithWidgets(ctx context.Context, store *db.Store, cfg config.Config, widgets WidgetDirectory) *Engine {
	e := &Engine{
		store:    store,
		cfg:      cfg,
		widgets:  widgets,
		surfaces: surface.NewStore(),
		data:     datamodel.NewRegistry(),
		builder:  action.NewBuilder(),
		events:   newHub(cfg.SideChannelBuffer),
		cursors:  map[string]int64{},
		state:    map[string]any{},
		now:      time.Now,
	}
	e.pending = optimistic.New(e.surfaces, &e.mu, cfg.OptimisticRollback)
	e.reconciler = reconcile.NewReconciler(e.surfaces, e.data, e.pending, sideChannel{e})
	e.gatherer = gather.New(ctx, e.surfaces, e.data, cfg.GatherCacheTTL)
	e.provider = action.NewProvider(dispatcher{e.events})
	e.pending.OnRollback(func(surfaceID, componentID string) {
		e.gatherer.InvalidateSurface(surfaceID)
		e.events.publish(Event{Kind: EventRollback, SurfaceID: surfaceID, ComponentID: componentID})
	})
	return e
}

// Apply applies one frame. A frame carrying seq is rejected with
// ErrOutOfOrder unless seq is above the last one applied to its surface;
// beginRendering resets the sequence.
func (e *Engine) Apply(ctx context.Context, f wire.Frame) (Result, error) {
	msg := f.Message
	if msg == nil {
		return Result{}, fmt.Errorf("empty message")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	entryID := ulid.Make().String()
	surfaceID := msg.Surface()
	if f.Seq != nil && surfaceID != "" {
		if err := e.advance(ctx, surfaceID, *f.Seq, msg.MessageType() == model.MsgBeginRendering); err != nil {
			if errors.Is(err, ErrOutOfOrder) {
				e.journal(ctx, entryID, surfaceID, f, model.OutcomeRejected)
			}
			return Result{}, err
		}
	}

	var out reconcile.Outcome
	switch m := msg.(type) {
	case model.DataModelUpdate:
		out = e.applyData(m)
	default:
		out = e.reconciler.Apply(msg)
	}
	if out.SurfaceID == "" {
		out.SurfaceID = surfaceID
	}

	switch m := msg.(type) {
	case model.BeginRendering:
		e.bindInstances(ctx, m.Components)
	case model.SurfaceUpdate:
		e.bindInstances(ctx, m.Components)
	case model.CreateElement:
		e.bindInstances(ctx, []model.SurfaceComponent{m.Component})
	case model.DeleteSurface:
		e.forget(ctx, m.SurfaceID)
	}
	if out.SurfaceID != "" {
		e.gatherer.InvalidateSurface(out.SurfaceID)
	}

	outcome, kind := model.OutcomeApplied, EventApplied
	if model.IsSideChannel(msg.MessageType()) {
		outcome, kind = model.OutcomeSideCmd, EventSideChannel
	}
	e.journal(ctx, entryID, out.SurfaceID, f, outcome)
	e.events.publish(Event{Kind: kind, SurfaceID: out.SurfaceID, EntryID: entryID, Seq: f.Seq, Message: msg})
	glog.V(2).Infof("[ingest] %s %s surface=%q changed=%v", entryID, msg.MessageType(), out.SurfaceID, out.Changed)

	return Result{
		EntryID:   entryID,
		SurfaceID: out.SurfaceID,
		Type:      msg.MessageType(),
		Changed:   out.Changed,
		Skipped:   out.Skipped,
	}, nil
}

// ApplyBatch applies frames in order and stops at the first error.
func (e *Engine) ApplyBatch(ctx context.Context, frames []wire.Frame) ([]Result, error) {
	out := make([]Result, 0, len(frames))
	for i, f := range frames {
		res, err := e.Apply(ctx, f)
		if err != nil {
			return out, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (e *Engine) applyData(m model.DataModelUpdate) reconcile.Outcome {
	st, ok := e.data.Get(m.SurfaceID)
	if !ok {
		glog.V(2).Infof("[ingest] dataModelUpdate for unknown surface %q", m.SurfaceID)
		return reconcile.Outcome{SurfaceID: m.SurfaceID, Skipped: "surface not found"}
	}
	if len(m.Contents) == 0 {
		return reconcile.Outcome{SurfaceID: m.SurfaceID}
	}
	entries := make([]model.DataEntry, 0, len(m.Contents))
	for _, en := range m.Contents {
		entries = append(entries, model.DataEntry{Path: datamodel.JoinPath(m.Path, en.Path), Value: en.Value})
	}
	st.Update(entries)
	return reconcile.Outcome{SurfaceID: m.SurfaceID, Changed: true}
}

func (e *Engine) advance(ctx context.Context, surfaceID string, seq int64, reset bool) error {
	if e.store != nil {
		return e.store.AdvanceCursor(ctx, surfaceID, seq, reset)
	}
	if last, ok := e.cursors[surfaceID]; ok && !reset && seq <= last {
		return fmt.Errorf("%w: surface %s seq %d <= %d", ErrOutOfOrder, surfaceID, seq, last)
	}
	e.cursors[surfaceID] = seq
	return nil
}

func (e *Engine) forget(ctx context.Context, surfaceID string) {
	delete(e.cursors, surfaceID)
	if e.store == nil {
		return
	}
	if err := e.store.DeleteCursor(ctx, surfaceID); err != nil {
		glog.Errorf("[ingest] delete cursor %s: %v", surfaceID, err)
	}
}

func (e *Engine) bindInstances(ctx context.Context, comps []model.SurfaceComponent) {
	if e.widgets == nil {
		return
	}
	for _, c := range comps {
		inst, ok := model.WidgetInstanceFrom(c.Component)
		if !ok {
			continue
		}
		if err := e.widgets.BindInstance(ctx, inst); err != nil {
			glog.Infof("[ingest] bind widget instance %s: %v", inst.InstanceID, err)
		}
	}
}

func (e *Engine) journal(ctx context.Context, entryID, surfaceID string, f wire.Frame, outcome string) {
	if e.store == nil {
		return
	}
	payload := ""
	if raw, err := wire.Encode(f); err == nil {
		payload = security.RedactForJournal(string(raw))
	}
	err := e.store.InsertJournal(ctx, model.JournalEntry{
		EntryID:     entryID,
		SurfaceID:   surfaceID,
		MessageType: f.Message.MessageType(),
		Seq:         f.Seq,
		Payload:     payload,
		AppliedAt:   e.now().UTC(),
		Outcome:     outcome,
	})
	if err != nil {
		glog.Errorf("[ingest] journal %s: %v", entryID, err)
	}
}

// Optimistic applies a local change ahead of server confirmation. See
// optimistic.Layer.Apply.
func (e *Engine) Optimistic(surfaceID, componentID string, changes map[string]any, rollback time.Duration) bool {
	if !e.pending.Apply(surfaceID, componentID, changes, rollback) {
		return false
	}
	e.gatherer.InvalidateSurface(surfaceID)
	return true
}

func (e *Engine) Pending(surfaceID string) []optimistic.Record {
	return e.pending.Pending(surfaceID)
}

func (e *Engine) HasPendingUpdate(surfaceID, componentID string) bool {
	return e.pending.HasPendingUpdate(surfaceID, componentID)
}

func (e *Engine) Surface(id string) (surface.Surface, bool) {
	return e.surfaces.Get(id)
}

func (e *Engine) Surfaces() []surface.Surface {
	return e.surfaces.List()
}

// Data returns the current data document of a surface.
func (e *Engine) Data(surfaceID string) (datamodel.Document, bool) {
	st, ok := e.data.Get(surfaceID)
	if !ok {
		return datamodel.Document{}, false
	}
	return st.Snapshot(), true
}

// Render resolves the component tree of a surface against its data.
func (e *Engine) Render(surfaceID string) (render.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces.Get(surfaceID)
	if !ok {
		return render.Node{}, fmt.Errorf("%w: %s", ErrSurfaceNotFound, surfaceID)
	}
	doc := datamodel.EmptyDocument()
	if st, ok := e.data.Get(surfaceID); ok {
		doc = st.Snapshot()
	}
	w := render.Walker{MaxDepth: e.cfg.MaxRenderDepth}
	if e.widgets != nil {
		w.Widgets = e.widgets
	}
	return w.Render(s, doc), nil
}

func (e *Engine) Gather(ids []string) gather.Result {
	return e.gatherer.Gather(ids)
}

// BuildUserAction produces the userAction message for an interaction with
// an interactive component and publishes it to subscribers.
func (e *Engine) BuildUserAction(surfaceID, componentID string, event map[string]any) (model.UserAction, error) {
	e.mu.Lock()
	c, doc, err := e.component(surfaceID, componentID)
	if err != nil {
		e.mu.Unlock()
		return model.UserAction{}, err
	}
	msg, err := e.builder.Build(surfaceID, componentID, c.Component, doc, event)
	e.mu.Unlock()
	if err != nil {
		return model.UserAction{}, err
	}
	e.events.publish(Event{Kind: EventUserAction, SurfaceID: msg.SurfaceID, ComponentID: componentID, UserAction: &msg})
	return msg, nil
}

// ExecuteWidgetAction runs action actionID of the widget instance placed by
// component componentID through the instance's action bindings.
func (e *Engine) ExecuteWidgetAction(ctx context.Context, surfaceID, componentID, actionID string, event map[string]any) (action.Dispatch, error) {
	e.mu.Lock()
	c, doc, err := e.component(surfaceID, componentID)
	if err != nil {
		e.mu.Unlock()
		return action.Dispatch{}, err
	}
	inst, ok := model.WidgetInstanceFrom(c.Component)
	if !ok {
		e.mu.Unlock()
		return action.Dispatch{}, fmt.Errorf("%w: %s", ErrNotWidgetInstance, componentID)
	}
	state := make(map[string]any, len(e.state))
	for k, v := range e.state {
		state[k] = v
	}
	e.mu.Unlock()

	return e.provider.Execute(ctx, inst.ActionBindings, actionID, action.Scope{
		Context: event,
		Data:    doc,
		State:   state,
	})
}

func (e *Engine) component(surfaceID, componentID string) (model.SurfaceComponent, datamodel.Document, error) {
	s, ok := e.surfaces.Get(surfaceID)
	if !ok {
		return model.SurfaceComponent{}, datamodel.Document{}, fmt.Errorf("%w: %s", ErrSurfaceNotFound, surfaceID)
	}
	c, ok := s.Component(componentID)
	if !ok {
		return model.SurfaceComponent{}, datamodel.Document{}, fmt.Errorf("%w: %s/%s", ErrComponentNotFound, surfaceID, componentID)
	}
	doc := datamodel.EmptyDocument()
	if st, ok := e.data.Get(surfaceID); ok {
		doc = st.Snapshot()
	}
	return c, doc, nil
}

// Subscribe returns a stream of engine events and a func that ends it.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	_, ch, cancel := e.events.subscribe()
	return ch, cancel
}

func (e *Engine) Subscribers() int {
	return e.events.len()
}

func (e *Engine) Journal(ctx context.Context, surfaceID string, limit int) ([]model.JournalEntry, error) {
	if e.store == nil {
		return []model.JournalEntry{}, nil
	}
	return e.store.ListJournal(ctx, surfaceID, limit)
}

// PurgeJournal applies the configured journal retention relative to now.
func (e *Engine) PurgeJournal(ctx context.Context, now time.Time) error {
	if e.store == nil {
		return nil
	}
	return e.store.PurgeRetention(ctx, now.Add(-e.cfg.JournalPayloadTTL), now.Add(-e.cfg.JournalRetention))
}

// Close stops pending rollback timers.
func (e *Engine) Close() {
	e.pending.Close()
}

// sideChannel records host state carried by side-channel messages. It runs
// under the engine lock.
type sideChannel struct{ e *Engine }

func (s sideChannel) Deliver(msg model.ServerMessage) {
	switch m := msg.(type) {
	case model.SetGlobalState:
		if m.Key == "" {
			return
		}
		if m.Value == nil {
			delete(s.e.state, m.Key)
			return
		}
		s.e.state[m.Key] = m.Value
	}
}

type dispatcher struct{ h *hub }

func (d dispatcher) Dispatch(_ context.Context, disp action.Dispatch) error {
	d.h.publish(Event{Kind: EventDispatch, Dispatch: &disp})
	return nil
}
