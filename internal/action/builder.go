package action

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/g960059/a2ui/internal/binding"
	"github.com/g960059/a2ui/internal/model"
)

var ErrNoAction = errors.New("component has no action")

// Spec is the action prop of an interactive component.
type Spec struct {
	Name            string
	Context         map[string]model.BoundValue
	TargetSurfaceID string
}

// ParseSpec reads an action prop. It accepts a bare action name, an object
// with a context map, or an object with a context list of {key, value}.
func ParseSpec(raw any) (Spec, bool) {
	switch v := raw.(type) {
	case string:
		return Spec{Name: v}, v != ""
	case model.LiteralString:
		return Spec{Name: v.Value}, v.Value != ""
	case map[string]any:
		s := Spec{}
		s.Name, _ = v["name"].(string)
		s.TargetSurfaceID, _ = v["targetSurfaceId"].(string)
		if s.Name == "" {
			return Spec{}, false
		}
		switch ctx := v["context"].(type) {
		case map[string]any:
			s.Context = make(map[string]model.BoundValue, len(ctx))
			for k, bv := range ctx {
				s.Context[k] = model.ToBound(bv)
			}
		case []any:
			s.Context = make(map[string]model.BoundValue, len(ctx))
			for _, entry := range ctx {
				m, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				key, _ := m["key"].(string)
				if key == "" {
					continue
				}
				s.Context[key] = model.ToBound(m["value"])
			}
		}
		return s, true
	}
	return Spec{}, false
}

// Builder produces userAction messages from component interactions.
type Builder struct {
	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Build resolves the action of component componentID against data. Values in
// event fill context keys the action does not map itself.
func (b *Builder) Build(surfaceID, componentID string, c model.Component, data binding.Getter, event map[string]any) (model.UserAction, error) {
	raw, ok := c.Get("action")
	if !ok {
		return model.UserAction{}, ErrNoAction
	}
	spec, ok := ParseSpec(raw)
	if !ok {
		return model.UserAction{}, ErrNoAction
	}
	ctx := make(map[string]any, len(spec.Context)+len(event))
	for k, bv := range spec.Context {
		ctx[k] = binding.Resolve(data, bv, nil)
	}
	for k, v := range event {
		if _, mapped := ctx[k]; !mapped {
			ctx[k] = v
		}
	}
	target := surfaceID
	if spec.TargetSurfaceID != "" {
		target = spec.TargetSurfaceID
	}
	return model.UserAction{
		Name:              spec.Name,
		SurfaceID:         target,
		SourceComponentID: componentID,
		Timestamp:         b.now().UnixMilli(),
		Context:           ctx,
	}, nil
}

// NewID returns a time-sortable id for an emitted action.
func NewID() string {
	return ulid.Make().String()
}
