package reconcile

import (
	"encoding/json"
	"math"

	"github.com/g960059/a2ui/internal/model"
)

// opFunc rewrites one component. The bool reports whether anything changed.
type opFunc func(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool)

var upsertOps = map[string]opFunc{
	"setText":            setText,
	"setValue":           setBound("value", "value"),
	"setStyle":           setStyle,
	"setVisibility":      setBound("visible", "visible", "value"),
	"setDisabled":        setBound("disabled", "disabled", "value"),
	"setLoading":         setBound("loading", "loading", "value"),
	"setAction":          setRaw("action", "action"),
	"setPlaceholder":     setBound("placeholder", "placeholder", "value"),
	"setChecked":         setBound("checked", "checked", "value"),
	"setChartData":       setBound("data", "data", "value"),
	"setChartLayout":     setBound("layout", "layout", "value"),
	"setProgress":        setProgress,
	"setImageSrc":        setBound("src", "src", "url", "value"),
	"setSpeakerName":     setBound("speakerName", "speakerName", "name", "value"),
	"setSpeakerPortrait": setBound("speakerPortraitId", "speakerPortraitId", "portraitId", "value"),
	"setTypewriter":      setTypewriter,
	"setTableData":       setBound("data", "data", "rows", "value"),
	"setTableColumns":    setRaw("columns", "columns", "value"),
	"addTableRow":        addTableRow,
	"removeTableRow":     removeTableRow,
	"updateTableCell":    updateTableCell,
	"pushChild":          pushChild,
	"insertChildAt":      insertChildAt,
	"removeChildAt":      removeChildAt,
	"clearChildren":      clearChildren,
	"setProps":           setProps,
}

// UpsertOps lists the recognized upsert operation names.
func UpsertOps() []string {
	out := make([]string, 0, len(upsertOps))
	for name := range upsertOps {
		out = append(out, name)
	}
	return out
}

// ApplyOp applies the operation named by payload["type"]. Unknown operations
// shallow-merge the payload, minus its type, into the component props.
func ApplyOp(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	name, _ := payload["type"].(string)
	if op, ok := upsertOps[name]; ok {
		return op(c, payload)
	}
	merged := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != "type" {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return c, false
	}
	c.Component = c.Component.With(merged)
	return c, true
}

func lookup(payload map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func setBound(prop string, keys ...string) opFunc {
	return func(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
		v, ok := lookup(payload, keys...)
		if !ok {
			return c, false
		}
		c.Component = c.Component.With(map[string]any{prop: model.ToBound(v)})
		return c, true
	}
}

func setRaw(prop string, keys ...string) opFunc {
	return func(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
		v, ok := lookup(payload, keys...)
		if !ok {
			return c, false
		}
		c.Component = c.Component.With(map[string]any{prop: v})
		return c, true
	}
}

// setText writes every text-carrying field so any display type picks it up.
func setText(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	v, ok := lookup(payload, "text", "content", "value")
	if !ok {
		return c, false
	}
	bv := model.ToBound(v)
	if s, isStr := v.(string); isStr {
		bv = model.LiteralString{Value: s}
	}
	c.Component = c.Component.With(map[string]any{"content": bv, "text": bv, "label": bv})
	return c, true
}

func setStyle(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	style, ok := payload["style"].(map[string]any)
	if !ok {
		return c, false
	}
	return c.WithStyle(style), true
}

func setProgress(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	props := map[string]any{}
	if v, ok := lookup(payload, "value", "progress"); ok {
		props["value"] = model.ToBound(v)
	}
	if v, ok := payload["max"]; ok {
		props["max"] = model.ToBound(v)
	}
	if len(props) == 0 {
		return c, false
	}
	c.Component = c.Component.With(props)
	return c, true
}

func setTypewriter(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	props := map[string]any{}
	if v, ok := lookup(payload, "enabled", "typewriter"); ok {
		props["typewriter"] = model.ToBound(v)
	}
	if v, ok := lookup(payload, "speed", "typewriterSpeed"); ok {
		props["typewriterSpeed"] = model.ToBound(v)
	}
	if len(props) == 0 {
		return c, false
	}
	c.Component = c.Component.With(props)
	return c, true
}

func setProps(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	props, ok := payload["props"].(map[string]any)
	if !ok || len(props) == 0 {
		return c, false
	}
	next := make(map[string]any, len(props))
	for k, v := range props {
		switch k {
		case "children", "action", "columns":
			next[k] = v
		default:
			next[k] = model.ToBound(v)
		}
	}
	c.Component = c.Component.With(next)
	return c, true
}

// boundRows reports whether the table reads its rows from the data model.
// Row ops leave such tables alone so the binding survives.
func boundRows(c model.SurfaceComponent) bool {
	bv, ok := c.Component.Bound("data")
	if !ok {
		return false
	}
	_, isPath := bv.(model.PathRef)
	return isPath
}

// tableRows reads the literal rows of a table.
func tableRows(c model.SurfaceComponent) []any {
	v, ok := c.Component.Get("data")
	if !ok {
		return nil
	}
	switch d := v.(type) {
	case model.LiteralJSON:
		var rows []any
		if err := json.Unmarshal([]byte(d.Raw), &rows); err != nil {
			return nil
		}
		return rows
	case []any:
		return append([]any(nil), d...)
	}
	return nil
}

func withRows(c model.SurfaceComponent, rows []any) model.SurfaceComponent {
	if rows == nil {
		rows = []any{}
	}
	c.Component = c.Component.With(map[string]any{"data": model.ToBound(rows)})
	return c
}

func intArg(payload map[string]any, keys ...string) (int, bool) {
	v, ok := lookup(payload, keys...)
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return n, true
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func addTableRow(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	row, ok := payload["row"]
	if !ok || boundRows(c) {
		return c, false
	}
	return withRows(c, append(tableRows(c), row)), true
}

func removeTableRow(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	if boundRows(c) {
		return c, false
	}
	rows := tableRows(c)
	i, ok := intArg(payload, "index", "rowIndex")
	if !ok || i < 0 || i >= len(rows) {
		return c, false
	}
	next := append(append([]any(nil), rows[:i]...), rows[i+1:]...)
	return withRows(c, next), true
}

func updateTableCell(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	if boundRows(c) {
		return c, false
	}
	rows := tableRows(c)
	i, ok := intArg(payload, "rowIndex", "index")
	column, hasColumn := lookup(payload, "column", "columnKey", "key")
	key, isStr := column.(string)
	if !ok || !hasColumn || !isStr || i < 0 || i >= len(rows) {
		return c, false
	}
	row, isMap := rows[i].(map[string]any)
	if !isMap {
		return c, false
	}
	updated := make(map[string]any, len(row)+1)
	for k, v := range row {
		updated[k] = v
	}
	updated[key] = payload["value"]
	rows[i] = updated
	return withRows(c, rows), true
}

// explicitList returns the component's explicit children. ok is false when
// the component renders from a template.
func explicitList(c model.SurfaceComponent) (model.ExplicitList, bool) {
	ch, has := c.Component.Children()
	if !has {
		return nil, true
	}
	list, ok := ch.(model.ExplicitList)
	return list, ok
}

func withList(c model.SurfaceComponent, list model.ExplicitList) model.SurfaceComponent {
	if list == nil {
		list = model.ExplicitList{}
	}
	c.Component = c.Component.WithChildren(list)
	return c
}

func pushChild(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	id, _ := lookup(payload, "childId", "componentId")
	childID, _ := id.(string)
	list, ok := explicitList(c)
	if !ok || childID == "" {
		return c, false
	}
	return withList(c, append(append(model.ExplicitList(nil), list...), childID)), true
}

func insertChildAt(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	id, _ := lookup(payload, "childId", "componentId")
	childID, _ := id.(string)
	list, ok := explicitList(c)
	if !ok || childID == "" {
		return c, false
	}
	at, _ := intArg(payload, "index")
	at = clampIndex(at, len(list))
	next := make(model.ExplicitList, 0, len(list)+1)
	next = append(next, list[:at]...)
	next = append(next, childID)
	next = append(next, list[at:]...)
	return withList(c, next), true
}

func removeChildAt(c model.SurfaceComponent, payload map[string]any) (model.SurfaceComponent, bool) {
	list, ok := explicitList(c)
	i, hasIndex := intArg(payload, "index")
	if !ok || !hasIndex || i < 0 || i >= len(list) {
		return c, false
	}
	next := append(append(model.ExplicitList(nil), list[:i]...), list[i+1:]...)
	return withList(c, next), true
}

func clearChildren(c model.SurfaceComponent, _ map[string]any) (model.SurfaceComponent, bool) {
	if _, ok := explicitList(c); !ok {
		return c, false
	}
	return withList(c, model.ExplicitList{}), true
}
