// Package datamodel holds the per-surface reactive data documents.
//
// Documents are persistent: every write returns a new Document that shares
// unchanged branches with its predecessor, so any Document handed out earlier
// remains a valid snapshot.
package datamodel

import (
	"encoding/json"
	"sort"

	"src.elv.sh/pkg/persistent/hash"
	"src.elv.sh/pkg/persistent/hashmap"
	"src.elv.sh/pkg/persistent/vector"

	"github.com/g960059/a2ui/internal/model"
)

func emptyObject() hashmap.Map {
	return hashmap.New(
		func(a, b any) bool { return a == b },
		func(k any) uint32 { return hash.String(k.(string)) },
	)
}

// Document is an immutable data document.
type Document struct {
	root hashmap.Map
}

func EmptyDocument() Document {
	return Document{root: emptyObject()}
}

// NewDocument builds a document by applying entries in order.
func NewDocument(entries []model.DataEntry) Document {
	return EmptyDocument().Apply(entries)
}

// FromMap builds a document holding a copy of m.
func FromMap(m map[string]any) Document {
	if m == nil {
		return EmptyDocument()
	}
	return Document{root: fromPlain(m).(hashmap.Map)}
}

func (d Document) object() hashmap.Map {
	if d.root == nil {
		return emptyObject()
	}
	return d.root
}

// Get returns the value at path as plain Go values (map[string]any, []any,
// string, float64, bool, nil). The second result is false when the path is
// undefined.
func (d Document) Get(path string) (any, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	var cur any = d.object()
	for _, seg := range segs {
		cur, ok = step(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return toPlain(cur), true
}

func step(cur any, seg segment) (any, bool) {
	switch c := cur.(type) {
	case vector.Vector:
		if seg.kind == segKey {
			return nil, false
		}
		if seg.index >= c.Len() {
			return nil, false
		}
		return c.Index(seg.index)
	case hashmap.Map:
		if seg.kind == segIndex {
			return nil, false
		}
		return c.Index(seg.key)
	}
	return nil, false
}

// Set returns a document with value stored at path. Intermediate containers
// are created as needed: bracket indices create arrays, padded with nulls,
// and other segments create objects. Malformed or unsafe paths leave the
// document unchanged.
func (d Document) Set(path string, value any) Document {
	segs, ok := parsePath(path)
	if !ok {
		return d
	}
	if len(segs) == 0 {
		if m, ok := fromPlain(value).(hashmap.Map); ok {
			return Document{root: m}
		}
		return d
	}
	root := setIn(d.object(), segs, fromPlain(value))
	return Document{root: root.(hashmap.Map)}
}

func setIn(cur any, segs []segment, value any) any {
	if len(segs) == 0 {
		return value
	}
	seg := segs[0]
	vec, isVec := cur.(vector.Vector)
	if seg.kind == segIndex || (seg.kind == segNumeric && isVec) {
		if !isVec {
			vec = vector.Empty
		}
		var child any
		if seg.index < vec.Len() {
			child, _ = vec.Index(seg.index)
		}
		next := setIn(child, segs[1:], value)
		for vec.Len() < seg.index {
			vec = vec.Conj(nil)
		}
		if seg.index == vec.Len() {
			return vec.Conj(next)
		}
		return vec.Assoc(seg.index, next)
	}
	obj, ok := cur.(hashmap.Map)
	if !ok {
		obj = emptyObject()
	}
	child, _ := obj.Index(seg.key)
	return obj.Assoc(seg.key, setIn(child, segs[1:], value))
}

// Remove returns a document without the value at path. Array elements are
// spliced out.
func (d Document) Remove(path string) Document {
	segs, ok := parsePath(path)
	if !ok || len(segs) == 0 {
		return d
	}
	root, changed := removeIn(d.object(), segs)
	if !changed {
		return d
	}
	return Document{root: root.(hashmap.Map)}
}

func removeIn(cur any, segs []segment) (any, bool) {
	seg := segs[0]
	last := len(segs) == 1
	switch c := cur.(type) {
	case vector.Vector:
		if seg.kind == segKey || seg.index >= c.Len() {
			return cur, false
		}
		if last {
			out := vector.Empty
			for it, i := c.Iterator(), 0; it.HasElem(); it.Next() {
				if i != seg.index {
					out = out.Conj(it.Elem())
				}
				i++
			}
			return out, true
		}
		child, _ := c.Index(seg.index)
		next, changed := removeIn(child, segs[1:])
		if !changed {
			return cur, false
		}
		return c.Assoc(seg.index, next), true
	case hashmap.Map:
		if seg.kind == segIndex {
			return cur, false
		}
		child, ok := c.Index(seg.key)
		if !ok {
			return cur, false
		}
		if last {
			return c.Dissoc(seg.key), true
		}
		next, changed := removeIn(child, segs[1:])
		if !changed {
			return cur, false
		}
		return c.Assoc(seg.key, next), true
	}
	return cur, false
}

// Apply sets every entry in order and returns the resulting document.
func (d Document) Apply(entries []model.DataEntry) Document {
	out := d
	for _, e := range entries {
		out = out.Set(e.Path, e.Value)
	}
	return out
}

// Plain returns the whole document as a map.
func (d Document) Plain() map[string]any {
	return toPlain(d.object()).(map[string]any)
}

func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Plain())
}

// Keys returns the top-level keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, d.object().Len())
	for it := d.object().Iterator(); it.HasElem(); it.Next() {
		k, _ := it.Elem()
		keys = append(keys, k.(string))
	}
	sort.Strings(keys)
	return keys
}

func (d Document) same(other Document) bool {
	return d.root == other.root
}

func fromPlain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := emptyObject()
		for k, val := range x {
			m = m.Assoc(k, fromPlain(val))
		}
		return m
	case []any:
		vec := vector.Empty
		for _, val := range x {
			vec = vec.Conj(fromPlain(val))
		}
		return vec
	case []string:
		vec := vector.Empty
		for _, val := range x {
			vec = vec.Conj(val)
		}
		return vec
	case []map[string]any:
		vec := vector.Empty
		for _, val := range x {
			vec = vec.Conj(fromPlain(val))
		}
		return vec
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return v
}

func toPlain(v any) any {
	switch x := v.(type) {
	case hashmap.Map:
		out := make(map[string]any, x.Len())
		for it := x.Iterator(); it.HasElem(); it.Next() {
			k, val := it.Elem()
			out[k.(string)] = toPlain(val)
		}
		return out
	case vector.Vector:
		out := make([]any, 0, x.Len())
		for it := x.Iterator(); it.HasElem(); it.Next() {
			out = append(out, toPlain(it.Elem()))
		}
		return out
	}
	return v
}
