// Package render expands surfaces into resolved component trees.
package render

import (
	"strconv"
	"strings"

	"github.com/g960059/a2ui/internal/binding"
	"github.com/g960059/a2ui/internal/model"
)

// ResolveChildren returns the child ids of c in render order. Explicit lists
// are returned as-is. A template yields one synthetic id per element of the
// array at its data path, and nothing when the path does not hold an array.
func ResolveChildren(c model.Component, data binding.Getter) []string {
	ch, ok := c.Children()
	if !ok {
		return nil
	}
	switch v := ch.(type) {
	case model.ExplicitList:
		return append([]string(nil), v...)
	case model.Template:
		if data == nil {
			return []string{}
		}
		raw, _ := data.Get(v.DataPath)
		items, ok := raw.([]any)
		if !ok {
			return []string{}
		}
		out := make([]string, len(items))
		for i := range items {
			out[i] = SyntheticID(v.TemplateComponentID, i)
		}
		return out
	}
	return nil
}

// SyntheticID names the i-th instance of a template component.
func SyntheticID(templateID string, i int) string {
	return templateID + "[" + strconv.Itoa(i) + "]"
}

// SplitSyntheticID reverses SyntheticID.
func SplitSyntheticID(id string) (string, int, bool) {
	if !strings.HasSuffix(id, "]") {
		return "", 0, false
	}
	open := strings.LastIndexByte(id, '[')
	if open <= 0 {
		return "", 0, false
	}
	digits := id[open+1 : len(id)-1]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return "", 0, false
	}
	i, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return id[:open], i, true
}
