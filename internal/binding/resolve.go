// Package binding resolves bound values against a data document.
package binding

import (
	"encoding/json"

	"github.com/g960059/a2ui/internal/datamodel"
	"github.com/g960059/a2ui/internal/model"
)

// Getter reads a path from a data document. The second result is false when
// the path is undefined.
type Getter interface {
	Get(path string) (any, bool)
}

// Resolve returns the current value of bv. Literals resolve to their payload.
// A path resolves to the stored value, including falsy values; an undefined
// path yields the default value when one is set, otherwise fallback. A nil
// bound value yields fallback.
func Resolve(g Getter, bv model.BoundValue, fallback any) any {
	switch v := bv.(type) {
	case nil:
		return fallback
	case model.LiteralString:
		return v.Value
	case model.LiteralNumber:
		return v.Value
	case model.LiteralBool:
		return v.Value
	case model.LiteralOptions:
		return v.Options
	case model.LiteralJSON:
		var out any
		if err := json.Unmarshal([]byte(v.Raw), &out); err != nil {
			return fallback
		}
		return out
	case model.PathRef:
		if g != nil {
			if got, ok := g.Get(v.Path); ok {
				return got
			}
		}
		if v.HasDefault && v.Default != nil {
			return v.Default
		}
		return fallback
	}
	return fallback
}

// ResolveAny resolves a raw component field. Bound values and bound-shaped
// maps are resolved; any other value, nil included, is returned as-is.
func ResolveAny(g Getter, raw any, fallback any) any {
	if raw == nil {
		return nil
	}
	bv, ok := model.ParseBoundValue(raw)
	if !ok {
		return raw
	}
	return Resolve(g, bv, fallback)
}

func ResolveString(g Getter, bv model.BoundValue, fallback string) string {
	if s, ok := Resolve(g, bv, fallback).(string); ok {
		return s
	}
	return fallback
}

func ResolveBool(g Getter, bv model.BoundValue, fallback bool) bool {
	if b, ok := Resolve(g, bv, fallback).(bool); ok {
		return b
	}
	return fallback
}

func ResolveNumber(g Getter, bv model.BoundValue, fallback float64) float64 {
	switch n := Resolve(g, bv, fallback).(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return fallback
}

// Scoped reads paths relative to an item of a repeated template first
// ("title" becomes "items[2].title") and falls back to the enclosing document.
type Scoped struct {
	Base   Getter
	Prefix string
}

func (s Scoped) Get(path string) (any, bool) {
	if s.Base == nil {
		return nil, false
	}
	if s.Prefix != "" {
		if v, ok := s.Base.Get(datamodel.JoinPath(s.Prefix, path)); ok {
			return v, true
		}
	}
	return s.Base.Get(path)
}

// Abs returns the absolute path Get would read for path.
func (s Scoped) Abs(path string) string {
	if s.Prefix != "" && s.Base != nil {
		joined := datamodel.JoinPath(s.Prefix, path)
		if _, ok := s.Base.Get(joined); ok {
			return joined
		}
	}
	return path
}
