// Package reconcile applies server messages to the surface store.
//
// Every message is applied in full or not at all. References to surfaces,
// components or parents that do not exist turn the message into a no-op;
// Apply never fails.
package reconcile

import (
	"github.com/golang/glog"

	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

// PendingTracker is notified when the server takes over component state.
type PendingTracker interface {
	Confirm(surfaceID, componentID string)
	DropSurface(surfaceID string)
}

// SideChannel consumes messages that do not touch the component tree.
type SideChannel interface {
	Deliver(msg model.ServerMessage)
}

// Outcome describes what Apply did with a message.
type Outcome struct {
	SurfaceID string
	Changed   bool
	// Skipped names the reason a message was dropped, if it was.
	Skipped string
}

type Reconciler struct {
	surfaces *surface.Store
	data     *datamodel.Registry
	pending  PendingTracker
	side     SideChannel
}

func NewReconciler(surfaces *surface.Store, data *datamodel.Registry, pending PendingTracker, side SideChannel) *Reconciler {
	return &Reconciler{surfaces: surfaces, data: data, pending: pending, side: side}
}

// Apply applies one message. Callers must serialize calls.
func (r *Reconciler) Apply(msg model.ServerMessage) Outcome {
	switch m := msg.(type) {
	case model.BeginRendering:
		return r.beginRendering(m)
	case model.SurfaceUpdate:
		return r.surfaceUpdate(m)
	case model.DataModelUpdate:
		// Data writes go through the data store, not the component tree.
		return Outcome{SurfaceID: m.SurfaceID}
	case model.DeleteSurface:
		return r.deleteSurface(m)
	case model.UpsertElement:
		return r.upsertElement(m)
	case model.CreateElement:
		return r.createElement(m)
	case model.RemoveElement:
		return r.removeElement(m)
	}
	if msg != nil && model.IsSideChannel(msg.MessageType()) {
		if r.side != nil {
			r.side.Deliver(msg)
		}
		return Outcome{SurfaceID: msg.Surface()}
	}
	return skipped("", "unsupported message")
}

func skipped(surfaceID, reason string) Outcome {
	glog.V(2).Infof("[reconcile] surface %q: %s", surfaceID, reason)
	return Outcome{SurfaceID: surfaceID, Skipped: reason}
}

func (r *Reconciler) beginRendering(m model.BeginRendering) Outcome {
	// pending changes belong to the surface being replaced
	if r.pending != nil {
		r.pending.DropSurface(m.SurfaceID)
	}
	r.surfaces.Put(surface.New(m.SurfaceID, m.RootComponentID, m.CatalogID, m.Components))
	if r.data != nil {
		r.data.Init(m.SurfaceID, m.DataModel)
	}
	return Outcome{SurfaceID: m.SurfaceID, Changed: true}
}

func (r *Reconciler) surfaceUpdate(m model.SurfaceUpdate) Outcome {
	s, ok := r.surfaces.Get(m.SurfaceID)
	if !ok {
		return skipped(m.SurfaceID, "surface not found")
	}
	for _, c := range m.Components {
		r.confirm(m.SurfaceID, c.ID)
		s = s.WithComponent(c)
	}
	if m.ParentID != "" {
		s = appendToParent(s, m.ParentID, m.Components)
	}
	r.surfaces.Put(s)
	return Outcome{SurfaceID: m.SurfaceID, Changed: len(m.Components) > 0}
}

// appendToParent adds updated components to the parent's explicit children
// when they are not listed yet.
func appendToParent(s surface.Surface, parentID string, comps []model.SurfaceComponent) surface.Surface {
	parent, ok := s.Component(parentID)
	if !ok {
		return s
	}
	ch, hasChildren := parent.Component.Children()
	list, isList := ch.(model.ExplicitList)
	if hasChildren && !isList {
		return s
	}
	next := append(model.ExplicitList(nil), list...)
	for _, c := range comps {
		if c.ID != parentID && !contains(next, c.ID) {
			next = append(next, c.ID)
		}
	}
	parent.Component = parent.Component.WithChildren(next)
	return s.WithComponent(parent)
}

func (r *Reconciler) deleteSurface(m model.DeleteSurface) Outcome {
	if r.pending != nil {
		r.pending.DropSurface(m.SurfaceID)
	}
	if r.data != nil {
		r.data.Drop(m.SurfaceID)
	}
	if !r.surfaces.Delete(m.SurfaceID) {
		return skipped(m.SurfaceID, "surface not found")
	}
	return Outcome{SurfaceID: m.SurfaceID, Changed: true}
}

// resolveElement maps an element id to its surface. A bare component id
// addresses the oldest live surface; this keeps single-surface producers
// working and is not meant for multi-surface streams.
func (r *Reconciler) resolveElement(elementID string) (surface.Surface, string, bool) {
	surfaceID, componentID := model.SplitElementID(elementID)
	if surfaceID == "" {
		s, ok := r.surfaces.First()
		if ok {
			glog.V(1).Infof("[reconcile] bare element id %q routed to surface %q", elementID, s.ID())
		}
		return s, componentID, ok
	}
	s, ok := r.surfaces.Get(surfaceID)
	return s, componentID, ok
}

func (r *Reconciler) upsertElement(m model.UpsertElement) Outcome {
	s, componentID, ok := r.resolveElement(m.ElementID)
	if !ok {
		return skipped(m.Surface(), "surface not found")
	}
	current, ok := s.Component(componentID)
	if !ok {
		return skipped(s.ID(), "component "+componentID+" not found")
	}
	r.confirm(s.ID(), componentID)
	next, changed := ApplyOp(current, m.Value)
	if !changed {
		return Outcome{SurfaceID: s.ID()}
	}
	r.surfaces.Put(s.WithComponent(next))
	return Outcome{SurfaceID: s.ID(), Changed: true}
}

func (r *Reconciler) createElement(m model.CreateElement) Outcome {
	s, ok := r.surfaces.Get(m.SurfaceID)
	if !ok {
		return skipped(m.SurfaceID, "surface not found")
	}
	c := m.Component
	if c.ID == "" {
		return skipped(m.SurfaceID, "component id missing")
	}
	s = s.WithComponent(c)
	if parent, ok := s.Component(m.ParentID); ok && m.ParentID != c.ID {
		ch, hasChildren := parent.Component.Children()
		list, isList := ch.(model.ExplicitList)
		if !hasChildren || isList {
			parent.Component = parent.Component.WithChildren(insertAt(without(list, c.ID), c.ID, m.Index))
			s = s.WithComponent(parent)
		}
	}
	r.surfaces.Put(s)
	return Outcome{SurfaceID: m.SurfaceID, Changed: true}
}

func (r *Reconciler) removeElement(m model.RemoveElement) Outcome {
	s, ok := r.surfaces.Get(m.SurfaceID)
	if !ok {
		return skipped(m.SurfaceID, "surface not found")
	}
	if _, ok := s.Component(m.ElementID); !ok {
		return skipped(m.SurfaceID, "component "+m.ElementID+" not found")
	}
	r.confirm(m.SurfaceID, m.ElementID)
	r.surfaces.Put(s.WithoutComponent(m.ElementID))
	return Outcome{SurfaceID: m.SurfaceID, Changed: true}
}

func (r *Reconciler) confirm(surfaceID, componentID string) {
	if r.pending != nil {
		r.pending.Confirm(surfaceID, componentID)
	}
}

// insertAt inserts id at index, clamped to [0, len(list)]. A nil index
// appends.
func insertAt(list model.ExplicitList, id string, index *int) model.ExplicitList {
	at := len(list)
	if index != nil {
		at = clampIndex(*index, len(list))
	}
	out := make(model.ExplicitList, 0, len(list)+1)
	out = append(out, list[:at]...)
	out = append(out, id)
	out = append(out, list[at:]...)
	return out
}

// clampIndex bounds an insert position to [0, n].
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func without(list model.ExplicitList, id string) model.ExplicitList {
	out := make(model.ExplicitList, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
