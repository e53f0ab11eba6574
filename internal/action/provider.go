// Package action turns component interactions into userAction messages and
// widget action dispatches.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/g960059/a2ui/internal/binding"
	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
)

var ErrActionNotFound = errors.New("action binding not found")

const (
	KindWorkflow = "workflow"
	KindNavigate = "navigate"
	KindExternal = "externalUrl"
	KindCommand  = "command"
)

// Dispatch is what a bound widget action resolved to.
type Dispatch struct {
	ActionID string         `json:"actionId"`
	Kind     string         `json:"kind"`
	EventID  string         `json:"eventId,omitempty"`
	PageID   string         `json:"pageId,omitempty"`
	URL      string         `json:"url,omitempty"`
	NewTab   bool           `json:"newTab,omitempty"`
	Command  string         `json:"command,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

// Dispatcher carries out a resolved action, e.g. by starting a workflow or
// emitting a host event.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Dispatch) error
}

// Scope holds the partitions a context mapping can read from.
type Scope struct {
	// Context is the event payload of the triggering interaction.
	Context map[string]any
	// Data is the surface data document.
	Data binding.Getter
	// State is host state outside the surface.
	State map[string]any
}

// Getter returns a getter that reads "context.x", "data.x" and "state.x"
// from the matching partition. Unprefixed paths read the event context.
func (s Scope) Getter() binding.Getter {
	return namespaced{
		context: datamodel.FromMap(s.Context),
		data:    s.Data,
		state:   datamodel.FromMap(s.State),
	}
}

type namespaced struct {
	context datamodel.Document
	data    binding.Getter
	state   datamodel.Document
}

func (n namespaced) Get(path string) (any, bool) {
	switch {
	case strings.HasPrefix(path, "context."):
		return n.context.Get(strings.TrimPrefix(path, "context."))
	case strings.HasPrefix(path, "data."):
		if n.data == nil {
			return nil, false
		}
		return n.data.Get(strings.TrimPrefix(path, "data."))
	case strings.HasPrefix(path, "state."):
		return n.state.Get(strings.TrimPrefix(path, "state."))
	}
	return n.context.Get(path)
}

// Provider resolves widget action ids through a widget instance's bindings.
type Provider struct {
	dispatcher Dispatcher
}

func NewProvider(d Dispatcher) *Provider {
	return &Provider{dispatcher: d}
}

// Resolve maps actionID to a Dispatch without running it.
func Resolve(bindings map[string]model.ActionBinding, actionID string, scope Scope) (Dispatch, error) {
	b, ok := bindings[actionID]
	if !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	d := Dispatch{ActionID: actionID}
	switch b.Type {
	case model.BindingWorkflowEvent:
		d.Kind = KindWorkflow
		d.EventID = b.EventID
	case model.BindingPageNavigation:
		d.Kind = KindNavigate
		d.PageID = b.PageID
	case model.BindingExternalURL:
		d.Kind = KindExternal
		d.URL = b.URL
		d.NewTab = b.NewTab
	case model.BindingCustomAction:
		d.Kind = KindCommand
		d.Command = b.ActionName
	default:
		return Dispatch{}, fmt.Errorf("unsupported binding type %q", b.Type)
	}
	if len(b.ContextMapping) > 0 {
		g := scope.Getter()
		d.Inputs = make(map[string]any, len(b.ContextMapping))
		for field, bv := range b.ContextMapping {
			d.Inputs[field] = binding.Resolve(g, bv, nil)
		}
	}
	return d, nil
}

// Execute resolves actionID and hands the result to the dispatcher.
func (p *Provider) Execute(ctx context.Context, bindings map[string]model.ActionBinding, actionID string, scope Scope) (Dispatch, error) {
	d, err := Resolve(bindings, actionID, scope)
	if err != nil {
		return Dispatch{}, err
	}
	if p.dispatcher == nil {
		return d, nil
	}
	if err := p.dispatcher.Dispatch(ctx, d); err != nil {
		return d, fmt.Errorf("dispatch %s: %w", actionID, err)
	}
	glog.V(1).Infof("[action] dispatched %s as %s", actionID, d.Kind)
	return d, nil
}
