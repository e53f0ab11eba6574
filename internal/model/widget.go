package model

import (
	"encoding/json"
	"fmt"
)

// Widget is a reusable component subtree with its own component map.
type Widget struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	Version         string             `json:"version"`
	RootComponentID string             `json:"rootComponentId"`
	Components      []SurfaceComponent `json:"components"`
	DataModel       []DataEntry        `json:"dataModel,omitempty"`
	Actions         []WidgetAction     `json:"actions,omitempty"`
}

// WidgetAction is an action a widget exposes to its host.
type WidgetAction struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// WidgetRef pins a widget by app, id and an optional semver constraint.
type WidgetRef struct {
	AppID    string `json:"appId"`
	WidgetID string `json:"widgetId"`
	Version  string `json:"version,omitempty"`
}

const (
	BindingWorkflowEvent  = "workflowEvent"
	BindingPageNavigation = "pageNavigation"
	BindingExternalURL    = "externalUrl"
	BindingCustomAction   = "customAction"
)

// ActionBinding maps a widget action to what the host does with it.
type ActionBinding struct {
	Type           string
	EventID        string
	PageID         string
	URL            string
	NewTab         bool
	ActionName     string
	ContextMapping map[string]BoundValue
}

func (b ActionBinding) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": b.Type}
	switch b.Type {
	case BindingWorkflowEvent:
		out["eventId"] = b.EventID
	case BindingPageNavigation:
		out["pageId"] = b.PageID
	case BindingExternalURL:
		out["url"] = b.URL
		out["newTab"] = b.NewTab
	case BindingCustomAction:
		out["actionName"] = b.ActionName
	}
	if len(b.ContextMapping) > 0 {
		mapping := make(map[string]any, len(b.ContextMapping))
		for k, v := range b.ContextMapping {
			mapping[k] = BoundWire(v)
		}
		out["contextMapping"] = mapping
	}
	return json.Marshal(out)
}

func (b *ActionBinding) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseActionBinding(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseActionBinding decodes an action binding from its JSON object form.
func ParseActionBinding(raw map[string]any) (ActionBinding, error) {
	b := ActionBinding{}
	b.Type, _ = raw["type"].(string)
	switch b.Type {
	case BindingWorkflowEvent:
		b.EventID, _ = raw["eventId"].(string)
	case BindingPageNavigation:
		b.PageID, _ = raw["pageId"].(string)
	case BindingExternalURL:
		b.URL, _ = raw["url"].(string)
		b.NewTab, _ = raw["newTab"].(bool)
	case BindingCustomAction:
		b.ActionName, _ = raw["actionName"].(string)
	default:
		return ActionBinding{}, fmt.Errorf("unknown action binding type %q", b.Type)
	}
	if mapping, ok := raw["contextMapping"].(map[string]any); ok {
		b.ContextMapping = make(map[string]BoundValue, len(mapping))
		for k, v := range mapping {
			b.ContextMapping[k] = ToBound(v)
		}
	}
	return b, nil
}

// WidgetInstance is the payload of a widgetInstance component.
type WidgetInstance struct {
	WidgetID            string
	InstanceID          string
	CustomizationValues map[string]any
	ActionBindings      map[string]ActionBinding
	WidgetRef           *WidgetRef
}

// WidgetInstanceFrom reads a widget instance out of a component.
func WidgetInstanceFrom(c Component) (WidgetInstance, bool) {
	if c.Type != TypeWidgetInstance {
		return WidgetInstance{}, false
	}
	wi := WidgetInstance{
		WidgetID:   propString(c, "widgetId"),
		InstanceID: propString(c, "instanceId"),
	}
	if wi.InstanceID == "" {
		return WidgetInstance{}, false
	}
	if values, ok := c.Props["customizationValues"].(map[string]any); ok {
		wi.CustomizationValues = values
	}
	if bindings, ok := c.Props["actionBindings"].(map[string]any); ok {
		wi.ActionBindings = make(map[string]ActionBinding, len(bindings))
		for actionID, raw := range bindings {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			b, err := ParseActionBinding(m)
			if err != nil {
				continue
			}
			wi.ActionBindings[actionID] = b
		}
	}
	if ref, ok := c.Props["widgetRef"].(map[string]any); ok {
		wi.WidgetRef = &WidgetRef{}
		wi.WidgetRef.AppID, _ = ref["appId"].(string)
		wi.WidgetRef.WidgetID, _ = ref["widgetId"].(string)
		wi.WidgetRef.Version, _ = ref["version"].(string)
	}
	return wi, true
}

func propString(c Component, key string) string {
	switch v := c.Props[key].(type) {
	case string:
		return v
	case LiteralString:
		return v.Value
	}
	return ""
}
