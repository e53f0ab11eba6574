package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
)

type recorder struct {
	got []Dispatch
	err error
}

func (r *recorder) Dispatch(_ context.Context, d Dispatch) error {
	r.got = append(r.got, d)
	return r.err
}

func TestScopeNamespacing(t *testing.T) {
	scope := Scope{
		Context: map[string]any{"itemId": "i-7", "nested": map[string]any{"x": 1.0}},
		Data:    datamodel.NewDocument([]model.DataEntry{{Path: "cart.total", Value: 42.0}}),
		State:   map[string]any{"user": map[string]any{"id": "u-1"}},
	}
	g := scope.Getter()
	cases := map[string]any{
		"context.itemId":   "i-7",
		"context.nested.x": 1.0,
		"data.cart.total":  42.0,
		"state.user.id":    "u-1",
		"itemId":           "i-7",
	}
	for path, want := range cases {
		got, ok := g.Get(path)
		if !ok || got != want {
			t.Fatalf("Get(%q) = %v, %v; want %v", path, got, ok, want)
		}
	}
	for _, path := range []string{"data.itemId", "state.itemId", "cart.total"} {
		if v, ok := g.Get(path); ok {
			t.Fatalf("Get(%q) = %v, expected undefined", path, v)
		}
	}
}

func TestProviderWorkflowDispatch(t *testing.T) {
	bindings := map[string]model.ActionBinding{
		"clicked_delete": {
			Type:    model.BindingWorkflowEvent,
			EventID: "delete-item",
			ContextMapping: map[string]model.BoundValue{
				"id":      model.PathRef{Path: "context.itemId"},
				"total":   model.PathRef{Path: "data.cart.total"},
				"reason":  model.LiteralString{Value: "user"},
				"missing": model.PathRef{Path: "state.none", Default: "n/a", HasDefault: true},
			},
		},
	}
	rec := &recorder{}
	p := NewProvider(rec)
	d, err := p.Execute(context.Background(), bindings, "clicked_delete", Scope{
		Context: map[string]any{"itemId": "i-7"},
		Data:    datamodel.NewDocument([]model.DataEntry{{Path: "cart.total", Value: 0.0}}),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := Dispatch{
		ActionID: "clicked_delete",
		Kind:     KindWorkflow,
		EventID:  "delete-item",
		Inputs:   map[string]any{"id": "i-7", "total": 0.0, "reason": "user", "missing": "n/a"},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("dispatch (-want +got):\n%s", diff)
	}
	if len(rec.got) != 1 {
		t.Fatalf("dispatcher calls = %d", len(rec.got))
	}
}

func TestProviderCommandAndErrors(t *testing.T) {
	bindings := map[string]model.ActionBinding{
		"share": {Type: model.BindingCustomAction, ActionName: "openShareSheet"},
	}
	d, err := Resolve(bindings, "share", Scope{})
	if err != nil || d.Kind != KindCommand || d.Command != "openShareSheet" {
		t.Fatalf("resolve = %+v, %v", d, err)
	}
	if _, err := Resolve(bindings, "nope", Scope{}); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
	rec := &recorder{err: errors.New("host gone")}
	if _, err := NewProvider(rec).Execute(context.Background(), bindings, "share", Scope{}); err == nil {
		t.Fatalf("dispatcher error should propagate")
	}
}

func TestParseSpecForms(t *testing.T) {
	if s, ok := ParseSpec("submit"); !ok || s.Name != "submit" {
		t.Fatalf("string form = %+v, %v", s, ok)
	}
	s, ok := ParseSpec(map[string]any{
		"name":    "save",
		"context": []any{map[string]any{"key": "id", "value": map[string]any{"path": "form.id"}}},
	})
	if !ok || s.Context["id"] != (model.PathRef{Path: "form.id"}) {
		t.Fatalf("list form = %+v, %v", s, ok)
	}
	if _, ok := ParseSpec(map[string]any{"context": map[string]any{}}); ok {
		t.Fatalf("action without a name should not parse")
	}
}

func TestBuildUserAction(t *testing.T) {
	c := model.NewComponent("button", map[string]any{
		"label": model.LiteralString{Value: "Save"},
		"action": map[string]any{
			"name":    "save",
			"context": map[string]any{"name": map[string]any{"path": "form.name"}, "count": 0.0},
		},
	})
	b := NewBuilder()
	b.now = func() time.Time { return time.UnixMilli(1234) }
	data := datamodel.NewDocument([]model.DataEntry{{Path: "form.name", Value: ""}})
	msg, err := b.Build("s1", "btn", c, data, map[string]any{"name": "ignored", "clickX": 3.0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := model.UserAction{
		Name:              "save",
		SurfaceID:         "s1",
		SourceComponentID: "btn",
		Timestamp:         1234,
		Context:           map[string]any{"name": "", "count": 0.0, "clickX": 3.0},
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Fatalf("userAction (-want +got):\n%s", diff)
	}

	if _, err := b.Build("s1", "t", model.NewComponent("text", nil), data, nil); !errors.Is(err, ErrNoAction) {
		t.Fatalf("expected ErrNoAction, got %v", err)
	}
}

func TestNewIDSortable(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	if len(a) != 26 || a >= b {
		t.Fatalf("ids not sortable: %s %s", a, b)
	}
}
