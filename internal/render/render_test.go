package render

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

func templated(id, dataPath, tplID string) model.SurfaceComponent {
	return model.SurfaceComponent{ID: id, Component: model.NewComponent("list", map[string]any{
		"children": map[string]any{"template": map[string]any{"dataPath": dataPath, "templateComponentId": tplID, "itemIdPath": "id"}},
	})}
}

func boundText(id, path string) model.SurfaceComponent {
	return model.SurfaceComponent{ID: id, Component: model.NewComponent("text", map[string]any{
		"content": map[string]any{"path": path},
	})}
}

func TestResolveChildrenTemplateLength(t *testing.T) {
	c := templated("list", "items", "tpl").Component
	doc := datamodel.NewDocument([]model.DataEntry{{Path: "items", Value: []any{"a", "b", "c"}}})
	if diff := cmp.Diff([]string{"tpl[0]", "tpl[1]", "tpl[2]"}, ResolveChildren(c, doc)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
	for _, doc := range []datamodel.Document{
		datamodel.EmptyDocument(),
		datamodel.NewDocument([]model.DataEntry{{Path: "items", Value: "not a list"}}),
		datamodel.NewDocument([]model.DataEntry{{Path: "items", Value: map[string]any{"k": 1.0}}}),
	} {
		got := ResolveChildren(c, doc)
		if got == nil || len(got) != 0 {
			t.Fatalf("non-array data should give an empty list, got %#v", got)
		}
	}
}

func TestResolveChildrenExplicitList(t *testing.T) {
	c := model.NewComponent("row", map[string]any{"children": map[string]any{"explicitList": []any{"b", "a"}}})
	if diff := cmp.Diff([]string{"b", "a"}, ResolveChildren(c, nil)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
	if got := ResolveChildren(model.NewComponent("text", nil), nil); got != nil {
		t.Fatalf("leaf children = %v", got)
	}
}

func TestSplitSyntheticID(t *testing.T) {
	base, i, ok := SplitSyntheticID("tpl[3]")
	if !ok || base != "tpl" || i != 3 {
		t.Fatalf("SplitSyntheticID = %q, %d, %v", base, i, ok)
	}
	base, i, ok = SplitSyntheticID(SyntheticID("a[1]", 12))
	if !ok || base != "a[1]" || i != 12 {
		t.Fatalf("nested = %q, %d, %v", base, i, ok)
	}
	for _, id := range []string{"tpl", "[3]", "tpl[]", "tpl[x]", "tpl[-1]"} {
		if _, _, ok := SplitSyntheticID(id); ok {
			t.Fatalf("%q should not split", id)
		}
	}
}

func TestRenderResolvesTemplateItems(t *testing.T) {
	s := surface.New("s", "root", "", []model.SurfaceComponent{
		templated("root", "todos", "row"),
		boundText("row", "title"),
	})
	doc := datamodel.NewDocument([]model.DataEntry{
		{Path: "todos", Value: []any{
			map[string]any{"id": "t1", "title": "write"},
			map[string]any{"id": "t2", "title": "test"},
		}},
	})
	tree := Walker{}.Render(s, doc)
	if len(tree.Children) != 2 {
		t.Fatalf("children = %d", len(tree.Children))
	}
	for i, want := range []string{"write", "test"} {
		child := tree.Children[i]
		if child.Props["content"] != want {
			t.Fatalf("child %d content = %v", i, child.Props["content"])
		}
		if child.ID != SyntheticID("row", i) || child.Type != "text" {
			t.Fatalf("child %d = %s/%s", i, child.ID, child.Type)
		}
	}
	if tree.Children[1].ItemPath != "todos[1]" || tree.Children[1].ItemKey != "t2" {
		t.Fatalf("item context = %q, %v", tree.Children[1].ItemPath, tree.Children[1].ItemKey)
	}
}

func TestRenderNestedTemplates(t *testing.T) {
	s := surface.New("s", "root", "", []model.SurfaceComponent{
		templated("root", "groups", "group"),
		templated("group", "members", "member"),
		boundText("member", "name"),
	})
	doc := datamodel.NewDocument([]model.DataEntry{
		{Path: "groups", Value: []any{
			map[string]any{"members": []any{map[string]any{"name": "a"}}},
			map[string]any{"members": []any{map[string]any{"name": "b"}, map[string]any{"name": "c"}}},
		}},
	})
	tree := Walker{}.Render(s, doc)
	second := tree.Children[1]
	if len(second.Children) != 2 {
		t.Fatalf("second group children = %d", len(second.Children))
	}
	if got := second.Children[1].Props["content"]; got != "c" {
		t.Fatalf("nested item content = %v", got)
	}
	if got := second.Children[1].ItemPath; got != "groups[1].members[1]" {
		t.Fatalf("nested item path = %q", got)
	}
}

func TestRenderMissingAndCycles(t *testing.T) {
	s := surface.New("s", "root", "", []model.SurfaceComponent{
		{ID: "root", Component: model.NewComponent("column", map[string]any{"children": model.ExplicitList{"ghost", "loop"}})},
		{ID: "loop", Component: model.NewComponent("column", map[string]any{"children": model.ExplicitList{"root"}})},
	})
	tree := Walker{}.Render(s, datamodel.EmptyDocument())
	if !tree.Children[0].Missing {
		t.Fatalf("ghost should be missing")
	}
	if !tree.Children[1].Children[0].Cycle {
		t.Fatalf("loop back to root should be cut")
	}
}

type widgetMap map[string]model.Widget

func (m widgetMap) WidgetForInstance(id string) (model.Widget, bool) {
	w, ok := m[id]
	return w, ok
}

func TestRenderWidgetInstanceUsesOwnComponents(t *testing.T) {
	card := model.Widget{
		ID:              "card",
		RootComponentID: "root",
		Components: []model.SurfaceComponent{
			{ID: "root", Component: model.NewComponent("card", map[string]any{"children": model.ExplicitList{"title"}})},
			boundText("title", "heading"),
		},
		DataModel: []model.DataEntry{{Path: "heading", Value: "default"}},
	}
	s := surface.New("s", "root", "", []model.SurfaceComponent{
		{ID: "root", Component: model.NewComponent("column", map[string]any{"children": model.ExplicitList{"w1", "w2", "title"}})},
		{ID: "w1", Component: model.NewComponent(model.TypeWidgetInstance, map[string]any{
			"widgetId":            "card",
			"instanceId":          "inst-1",
			"customizationValues": map[string]any{"heading": "Hello"},
			"actionBindings": map[string]any{
				"open": map[string]any{"type": "externalUrl", "url": "https://example.com"},
			},
		})},
		{ID: "w2", Component: model.NewComponent(model.TypeWidgetInstance, map[string]any{"instanceId": "missing"})},
		boundText("title", "outer"),
	})
	doc := datamodel.NewDocument([]model.DataEntry{{Path: "outer", Value: "surface title"}})
	tree := Walker{Widgets: widgetMap{"inst-1": card}}.Render(s, doc)

	w1 := tree.Children[0].Widget
	if w1 == nil || w1.NotFound || w1.Root == nil {
		t.Fatalf("w1 = %+v", w1)
	}
	if got := w1.Root.Children[0].Props["content"]; got != "Hello" {
		t.Fatalf("widget title = %v", got)
	}
	if w1.Bindings["open"].URL != "https://example.com" {
		t.Fatalf("bindings = %+v", w1.Bindings)
	}
	if w2 := tree.Children[1].Widget; w2 == nil || !w2.NotFound || w2.Root != nil {
		t.Fatalf("w2 = %+v", w2)
	}
	if got := tree.Children[2].Props["content"]; got != "surface title" {
		t.Fatalf("sibling after missing widget = %v", got)
	}
}

func TestRenderWidgetDefaults(t *testing.T) {
	def := model.Widget{
		ID:              "card",
		RootComponentID: "title",
		Components:      []model.SurfaceComponent{boundText("title", "heading")},
		DataModel:       []model.DataEntry{{Path: "heading", Value: "default"}},
	}
	if got := (Walker{}).RenderWidget(def, nil).Props["content"]; got != "default" {
		t.Fatalf("content = %v", got)
	}
}
