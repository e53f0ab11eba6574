package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Children is the child specification of a container component.
type Children interface {
	isChildren()
	wire() map[string]any
}

// ExplicitList is an ordered list of child component ids; order is render order.
type ExplicitList []string

// Template repeats TemplateComponentID once per element of the array at DataPath.
type Template struct {
	DataPath            string
	TemplateComponentID string
	ItemIDPath          string
}

func (ExplicitList) isChildren() {}
func (Template) isChildren()     {}

func (l ExplicitList) wire() map[string]any {
	ids := []string(l)
	if ids == nil {
		ids = []string{}
	}
	return map[string]any{"explicitList": ids}
}

func (t Template) wire() map[string]any {
	tpl := map[string]any{
		"dataPath":            t.DataPath,
		"templateComponentId": t.TemplateComponentID,
	}
	if t.ItemIDPath != "" {
		tpl["itemIdPath"] = t.ItemIDPath
	}
	return map[string]any{"template": tpl}
}

// ParseChildren recognizes {explicitList:[...]} and {template:{...}}.
// Template keys are accepted in both the dataPath/templateComponentId and the
// dataBinding/componentId spelling.
func ParseChildren(raw any) (Children, bool) {
	if c, ok := raw.(Children); ok {
		return c, true
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	if list, ok := m["explicitList"]; ok {
		switch ids := list.(type) {
		case []string:
			return ExplicitList(append([]string(nil), ids...)), true
		case []any:
			out := make([]string, 0, len(ids))
			for _, id := range ids {
				s, ok := id.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return ExplicitList(out), true
		case nil:
			return ExplicitList{}, true
		}
		return nil, false
	}
	tpl, ok := m["template"].(map[string]any)
	if !ok {
		return nil, false
	}
	t := Template{
		DataPath:            firstString(tpl, "dataPath", "dataBinding"),
		TemplateComponentID: firstString(tpl, "templateComponentId", "componentId"),
		ItemIDPath:          firstString(tpl, "itemIdPath"),
	}
	if t.TemplateComponentID == "" {
		return nil, false
	}
	return t, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Component is the typed payload of a surface component. Props hold
// BoundValue, Children, or raw JSON values and are never mutated in place.
type Component struct {
	Type  string
	Props map[string]any
}

func NewComponent(typ string, props map[string]any) Component {
	c := Component{Type: typ, Props: make(map[string]any, len(props))}
	for k, v := range props {
		c.Props[k] = normalizeProp(k, v)
	}
	return c
}

func normalizeProp(key string, v any) any {
	if key == "children" {
		if ch, ok := ParseChildren(v); ok {
			return ch
		}
		return v
	}
	if bv, ok := ParseBoundValue(v); ok {
		return bv
	}
	return v
}

func (c Component) Get(key string) (any, bool) {
	v, ok := c.Props[key]
	return v, ok
}

// Bound returns the bound value stored at key.
func (c Component) Bound(key string) (BoundValue, bool) {
	bv, ok := c.Props[key].(BoundValue)
	return bv, ok
}

func (c Component) Children() (Children, bool) {
	ch, ok := c.Props["children"].(Children)
	return ch, ok
}

// With returns a copy of c with the given props merged over the existing ones.
func (c Component) With(props map[string]any) Component {
	out := Component{Type: c.Type, Props: make(map[string]any, len(c.Props)+len(props))}
	for k, v := range c.Props {
		out.Props[k] = v
	}
	for k, v := range props {
		out.Props[k] = normalizeProp(k, v)
	}
	return out
}

func (c Component) WithChildren(ch Children) Component {
	return c.With(map[string]any{"children": ch})
}

// Fields returns the wire form of the props.
func (c Component) Fields() map[string]any {
	out := make(map[string]any, len(c.Props))
	for k, v := range c.Props {
		out[k] = wireValue(v)
	}
	return out
}

func (c Component) PropNames() []string {
	names := make([]string, 0, len(c.Props))
	for k := range c.Props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func wireValue(v any) any {
	switch x := v.(type) {
	case BoundValue:
		return x.wire()
	case Children:
		return x.wire()
	}
	return v
}

func (c Component) MarshalJSON() ([]byte, error) {
	out := c.Fields()
	out["type"] = c.Type
	return json.Marshal(out)
}

func (c *Component) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		return fmt.Errorf("component type required")
	}
	delete(raw, "type")
	*c = NewComponent(typ, raw)
	return nil
}

// SurfaceComponent is one node of a surface's flat component map.
type SurfaceComponent struct {
	ID        string         `json:"id"`
	Style     map[string]any `json:"style,omitempty"`
	Component Component      `json:"component"`
}

// WithStyle shallow-merges style overrides.
func (sc SurfaceComponent) WithStyle(style map[string]any) SurfaceComponent {
	merged := make(map[string]any, len(sc.Style)+len(style))
	for k, v := range sc.Style {
		merged[k] = v
	}
	for k, v := range style {
		merged[k] = v
	}
	sc.Style = merged
	return sc
}

// ExplicitChildren returns the explicit child ids of a component, or nil.
func (sc SurfaceComponent) ExplicitChildren() []string {
	if list, ok := sc.Component.Props["children"].(ExplicitList); ok {
		return list
	}
	return nil
}
