package api

import (
	"encoding/json"
	"time"
)

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type SurfaceSummary struct {
	SurfaceID       string `json:"surface_id"`
	RootComponentID string `json:"root_component_id"`
	CatalogID       string `json:"catalog_id,omitempty"`
	Components      int    `json:"components"`
	PendingUpdates  int    `json:"pending_updates"`
	Fingerprint     string `json:"fingerprint"`
}

type SurfacesEnvelope struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Surfaces      []SurfaceSummary `json:"surfaces"`
}

type SurfaceEnvelope struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Summary       SurfaceSummary  `json:"summary"`
	Surface       json.RawMessage `json:"surface"`
	Data          json.RawMessage `json:"data"`
	Pending       []PendingItem   `json:"pending,omitempty"`
}

type RenderEnvelope struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	SurfaceID     string          `json:"surface_id"`
	Tree          json.RawMessage `json:"tree"`
}

type DataEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	SurfaceID     string    `json:"surface_id"`
	Path          string    `json:"path,omitempty"`
	Defined       bool      `json:"defined"`
	Value         any       `json:"value"`
}

type MessageResult struct {
	EntryID   string `json:"entry_id"`
	SurfaceID string `json:"surface_id,omitempty"`
	Type      string `json:"type"`
	Changed   bool   `json:"changed"`
	Skipped   string `json:"skipped,omitempty"`
}

type MessagesResponse struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Results       []MessageResult `json:"results"`
}

type OptimisticRequest struct {
	ComponentID string         `json:"component_id"`
	Changes     map[string]any `json:"changes"`
	RollbackMS  int64          `json:"rollback_ms,omitempty"`
}

type PendingItem struct {
	SurfaceID   string         `json:"surface_id"`
	ComponentID string         `json:"component_id"`
	Changes     map[string]any `json:"changes"`
	Timestamp   time.Time      `json:"timestamp"`
}

type OptimisticResponse struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Applied       bool          `json:"applied"`
	Pending       []PendingItem `json:"pending"`
}

type GatherRequest struct {
	ElementIDs []string `json:"element_ids"`
}

type ElementValue struct {
	Path      string `json:"path"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// GatherResponse keeps the camelCase shape producers read back.
type GatherResponse struct {
	Elements     map[string]ElementValue `json:"elements"`
	RequestedIDs []string                `json:"requestedIds"`
}

type ActionRequest struct {
	SurfaceID   string         `json:"surface_id"`
	ComponentID string         `json:"component_id"`
	ActionID    string         `json:"action_id,omitempty"`
	Event       map[string]any `json:"event,omitempty"`
}

type DispatchItem struct {
	ActionID string         `json:"action_id"`
	Kind     string         `json:"kind"`
	EventID  string         `json:"event_id,omitempty"`
	PageID   string         `json:"page_id,omitempty"`
	URL      string         `json:"url,omitempty"`
	NewTab   bool           `json:"new_tab,omitempty"`
	Command  string         `json:"command,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

type ActionResponse struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	UserAction    json.RawMessage `json:"user_action,omitempty"`
	Dispatch      *DispatchItem   `json:"dispatch,omitempty"`
}

type WidgetSummary struct {
	WidgetID  string    `json:"widget_id"`
	Name      string    `json:"name"`
	Versions  []string  `json:"versions"`
	UpdatedAt time.Time `json:"updated_at"`
}

type WidgetsEnvelope struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Widgets       []WidgetSummary `json:"widgets"`
}

type WidgetEnvelope struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Widget        json.RawMessage `json:"widget"`
}

type JournalItem struct {
	EntryID     string          `json:"entry_id"`
	SurfaceID   string          `json:"surface_id"`
	MessageType string          `json:"message_type"`
	Seq         *int64          `json:"seq,omitempty"`
	Outcome     string          `json:"outcome"`
	AppliedAt   time.Time       `json:"applied_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type JournalEnvelope struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Entries       []JournalItem `json:"entries"`
}

// StreamFrame is one outbound websocket frame.
type StreamFrame struct {
	Kind        string          `json:"kind"`
	SurfaceID   string          `json:"surface_id,omitempty"`
	ComponentID string          `json:"component_id,omitempty"`
	EntryID     string          `json:"entry_id,omitempty"`
	Seq         *int64          `json:"seq,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Dispatch    *DispatchItem   `json:"dispatch,omitempty"`
	UserAction  json.RawMessage `json:"user_action,omitempty"`
	Result      *MessageResult  `json:"result,omitempty"`
	Error       *APIError       `json:"error,omitempty"`
}

// StreamHello is the first frame sent on a stream.
type StreamHello struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
}
