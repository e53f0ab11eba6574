package model

import (
	"encoding/json"
	"fmt"
)

// BoundValue is either a literal or a reference into the surface data document.
// The concrete variant is fixed when the value is parsed.
type BoundValue interface {
	isBoundValue()
	wire() map[string]any
}

type LiteralString struct{ Value string }

type LiteralNumber struct{ Value float64 }

type LiteralBool struct{ Value bool }

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type LiteralOptions struct{ Options []Option }

// LiteralJSON carries an unparsed JSON document.
type LiteralJSON struct{ Raw string }

type PathRef struct {
	Path       string
	Default    any
	HasDefault bool
}

func (LiteralString) isBoundValue()  {}
func (LiteralNumber) isBoundValue()  {}
func (LiteralBool) isBoundValue()    {}
func (LiteralOptions) isBoundValue() {}
func (LiteralJSON) isBoundValue()    {}
func (PathRef) isBoundValue()        {}

func (v LiteralString) wire() map[string]any { return map[string]any{"literalString": v.Value} }
func (v LiteralNumber) wire() map[string]any { return map[string]any{"literalNumber": v.Value} }
func (v LiteralBool) wire() map[string]any   { return map[string]any{"literalBool": v.Value} }
func (v LiteralJSON) wire() map[string]any   { return map[string]any{"literalJson": v.Raw} }

func (v LiteralOptions) wire() map[string]any {
	opts := v.Options
	if opts == nil {
		opts = []Option{}
	}
	return map[string]any{"literalOptions": opts}
}

func (v PathRef) wire() map[string]any {
	out := map[string]any{"path": v.Path}
	if v.HasDefault {
		out["defaultValue"] = v.Default
	}
	return out
}

// BoundWire returns the JSON object form of a bound value.
func BoundWire(v BoundValue) map[string]any {
	if v == nil {
		return nil
	}
	return v.wire()
}

// ParseBoundValue recognizes the wire envelope of a bound value in a decoded
// JSON value. Anything that is not exactly one envelope reports false.
func ParseBoundValue(raw any) (BoundValue, bool) {
	if bv, ok := raw.(BoundValue); ok {
		return bv, true
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	if p, ok := m["path"]; ok {
		path, isStr := p.(string)
		if !isStr {
			return nil, false
		}
		def, hasDefault := m["defaultValue"]
		if len(m) > 2 || (len(m) == 2 && !hasDefault) {
			return nil, false
		}
		return PathRef{Path: path, Default: def, HasDefault: hasDefault}, true
	}
	if len(m) != 1 {
		return nil, false
	}
	for key, val := range m {
		switch key {
		case "literalString":
			if s, ok := val.(string); ok {
				return LiteralString{Value: s}, true
			}
		case "literalNumber":
			if n, ok := toFloat(val); ok {
				return LiteralNumber{Value: n}, true
			}
		case "literalBool":
			if b, ok := val.(bool); ok {
				return LiteralBool{Value: b}, true
			}
		case "literalJson":
			if s, ok := val.(string); ok {
				return LiteralJSON{Raw: s}, true
			}
		case "literalOptions":
			if opts, ok := parseOptions(val); ok {
				return LiteralOptions{Options: opts}, true
			}
		}
	}
	return nil, false
}

// ToBound wraps a raw value into the closest literal variant. Values that are
// already bound-shaped are parsed as such.
func ToBound(raw any) BoundValue {
	if bv, ok := ParseBoundValue(raw); ok {
		return bv
	}
	switch v := raw.(type) {
	case string:
		return LiteralString{Value: v}
	case bool:
		return LiteralBool{Value: v}
	}
	if n, ok := toFloat(raw); ok {
		return LiteralNumber{Value: n}
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return LiteralString{Value: fmt.Sprint(raw)}
	}
	return LiteralJSON{Raw: string(buf)}
}

func parseOptions(raw any) ([]Option, bool) {
	switch v := raw.(type) {
	case []Option:
		return v, true
	case []any:
		out := make([]Option, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			value, _ := m["value"].(string)
			label, _ := m["label"].(string)
			out = append(out, Option{Value: value, Label: label})
		}
		return out, true
	}
	return nil, false
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
