package render

import (
	"strconv"

	"github.com/g960059/a2ui/internal/binding"
	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/surface"
)

const defaultMaxDepth = 64

// WidgetSource looks up the widget definition placed by a widget instance.
type WidgetSource interface {
	WidgetForInstance(instanceID string) (model.Widget, bool)
}

// Node is one resolved component. Props hold resolved values; children are
// already expanded.
type Node struct {
	ID    string         `json:"id"`
	Type  string         `json:"type,omitempty"`
	Props map[string]any `json:"props,omitempty"`
	Style map[string]any `json:"style,omitempty"`
	// ItemPath is the absolute data path of the template item this node
	// renders, if any.
	ItemPath string `json:"itemPath,omitempty"`
	// ItemKey is the value at the template's itemIdPath for this item.
	ItemKey  any    `json:"itemKey,omitempty"`
	Children []Node `json:"children,omitempty"`

	Widget *WidgetNode `json:"widget,omitempty"`

	Missing bool `json:"missing,omitempty"`
	Cycle   bool `json:"cycle,omitempty"`
}

// WidgetNode describes how a widget instance was resolved.
type WidgetNode struct {
	InstanceID string                         `json:"instanceId"`
	WidgetID   string                         `json:"widgetId,omitempty"`
	NotFound   bool                           `json:"notFound,omitempty"`
	Bindings   map[string]model.ActionBinding `json:"actionBindings,omitempty"`
	Root       *Node                          `json:"root,omitempty"`
}

// Walker renders component trees. The zero value renders surfaces without
// widget support.
type Walker struct {
	Widgets  WidgetSource
	MaxDepth int
}

// scope is the component map and data a subtree is resolved against. Each
// widget instance opens a new scope.
type scope struct {
	lookup func(id string) (model.SurfaceComponent, bool)
	data   binding.Getter
}

// Render resolves the tree of s starting at its root component.
func (w Walker) Render(s surface.Surface, data binding.Getter) Node {
	sc := scope{lookup: s.Component, data: data}
	return w.walk(sc, s.RootComponentID(), nil, map[string]bool{}, 0)
}

// RenderWidget resolves a widget definition on its own, with the widget's
// default data overlaid by values.
func (w Walker) RenderWidget(def model.Widget, values map[string]any) Node {
	return w.walk(widgetScope(def, values), def.RootComponentID, nil, map[string]bool{}, 0)
}

func widgetScope(def model.Widget, values map[string]any) scope {
	byID := make(map[string]model.SurfaceComponent, len(def.Components))
	for _, c := range def.Components {
		byID[c.ID] = c
	}
	doc := datamodel.NewDocument(def.DataModel)
	for path, v := range values {
		doc = doc.Set(path, v)
	}
	return scope{
		lookup: func(id string) (model.SurfaceComponent, bool) {
			c, ok := byID[id]
			return c, ok
		},
		data: doc,
	}
}

func (w Walker) maxDepth() int {
	if w.MaxDepth > 0 {
		return w.MaxDepth
	}
	return defaultMaxDepth
}

// item carries the template context of a synthetic child.
type item struct {
	path string
	key  any
}

func (w Walker) walk(sc scope, id string, it *item, path map[string]bool, depth int) Node {
	c, ok := sc.lookup(id)
	data := sc.data
	node := Node{ID: id}
	if !ok && it != nil {
		if base, _, isSynthetic := SplitSyntheticID(id); isSynthetic {
			c, ok = sc.lookup(base)
		}
	}
	if !ok {
		node.Missing = true
		return node
	}
	if path[c.ID] || depth >= w.maxDepth() {
		node.Cycle = true
		return node
	}
	if it != nil {
		data = binding.Scoped{Base: sc.data, Prefix: it.path}
		node.ItemPath = it.path
		node.ItemKey = it.key
	}
	path[c.ID] = true
	defer delete(path, c.ID)

	node.Type = c.Component.Type
	node.Style = c.Style
	node.Props = resolveProps(c.Component, data)

	if c.Component.Type == model.TypeWidgetInstance {
		node.Widget = w.widget(c.Component, depth)
		return node
	}

	childScope := sc
	childScope.data = data
	ch, _ := c.Component.Children()
	tpl, isTemplate := ch.(model.Template)
	for i, childID := range ResolveChildren(c.Component, data) {
		var childItem *item
		if isTemplate {
			itemPath := absPath(data, tpl.DataPath) + "[" + strconv.Itoa(i) + "]"
			childItem = &item{path: itemPath}
			if tpl.ItemIDPath != "" {
				childItem.key, _ = sc.data.Get(datamodel.JoinPath(itemPath, tpl.ItemIDPath))
			}
			// Item paths are absolute, so the child resolves against the
			// unscoped document.
			childScope.data = sc.data
		}
		node.Children = append(node.Children, w.walk(childScope, childID, childItem, path, depth+1))
	}
	return node
}

func (w Walker) widget(c model.Component, depth int) *WidgetNode {
	inst, ok := model.WidgetInstanceFrom(c)
	if !ok {
		return &WidgetNode{NotFound: true}
	}
	out := &WidgetNode{
		InstanceID: inst.InstanceID,
		WidgetID:   inst.WidgetID,
		Bindings:   inst.ActionBindings,
	}
	if w.Widgets == nil {
		out.NotFound = true
		return out
	}
	def, ok := w.Widgets.WidgetForInstance(inst.InstanceID)
	if !ok {
		out.NotFound = true
		return out
	}
	if out.WidgetID == "" {
		out.WidgetID = def.ID
	}
	root := w.walk(widgetScope(def, inst.CustomizationValues), def.RootComponentID, nil, map[string]bool{}, depth+1)
	out.Root = &root
	return out
}

func resolveProps(c model.Component, data binding.Getter) map[string]any {
	names := c.PropNames()
	out := make(map[string]any, len(names))
	for _, name := range names {
		v := c.Props[name]
		switch x := v.(type) {
		case model.Children:
			continue
		case model.BoundValue:
			out[name] = binding.Resolve(data, x, nil)
		default:
			out[name] = v
		}
	}
	return out
}

func absPath(g binding.Getter, path string) string {
	if s, ok := g.(binding.Scoped); ok {
		return s.Abs(path)
	}
	return path
}
