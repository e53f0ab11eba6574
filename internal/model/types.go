package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DataEntry is one path/value pair of a flattened data document.
type DataEntry struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// UnmarshalJSON accepts both the current {path,value} shape and the older
// {key,value} shape still emitted by some producers.
func (e *DataEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Path  *string `json:"path"`
		Key   *string `json:"key"`
		Value any     `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Path != nil:
		e.Path = *raw.Path
	case raw.Key != nil:
		e.Path = *raw.Key
	default:
		return fmt.Errorf("data entry requires path")
	}
	e.Value = raw.Value
	return nil
}

// JournalEntry is one applied server message as recorded by the daemon.
type JournalEntry struct {
	EntryID     string
	SurfaceID   string
	MessageType string
	Seq         *int64
	Payload     string
	AppliedAt   time.Time
	Outcome     string
}

const (
	OutcomeApplied  = "applied"
	OutcomeSideCmd  = "side_channel"
	OutcomeRejected = "rejected"
)

// WidgetRecord is a stored widget definition.
type WidgetRecord struct {
	WidgetID  string
	Version   string
	Name      string
	Body      string
	UpdatedAt time.Time
}

// InstanceRecord binds a widget instance id to the widget definition it renders.
type InstanceRecord struct {
	InstanceID string
	WidgetID   string
	Constraint string
	UpdatedAt  time.Time
}

// SplitElementID splits "surfaceId/componentId". A bare id yields an empty
// surface id.
func SplitElementID(elementID string) (surfaceID, componentID string) {
	idx := strings.Index(elementID, "/")
	if idx < 0 {
		return "", elementID
	}
	return elementID[:idx], elementID[idx+1:]
}

// PendingKey is the key of a pending optimistic update.
func PendingKey(surfaceID, componentID string) string {
	return surfaceID + "/" + componentID
}

const (
	ErrMessageInvalid     = "E_MESSAGE_INVALID"
	ErrMessageUnknownType = "E_MESSAGE_UNKNOWN_TYPE"
	ErrOutOfOrder         = "E_OUT_OF_ORDER"
	ErrSurfaceNotFound    = "E_SURFACE_NOT_FOUND"
	ErrComponentNotFound  = "E_COMPONENT_NOT_FOUND"
	ErrWidgetNotFound     = "E_WIDGET_NOT_FOUND"
	ErrWidgetInvalid      = "E_WIDGET_INVALID"
	ErrActionNotFound     = "E_ACTION_NOT_FOUND"
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefInvalidEncoding = "E_REF_INVALID_ENCODING"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrInternal           = "E_INTERNAL"
)
