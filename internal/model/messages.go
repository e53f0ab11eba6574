package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownMessageType = errors.New("unknown message type")

const (
	MsgBeginRendering  = "beginRendering"
	MsgSurfaceUpdate   = "surfaceUpdate"
	MsgDataModelUpdate = "dataModelUpdate"
	MsgDeleteSurface   = "deleteSurface"
	MsgRequestElements = "requestElements"
	MsgUpsertElement   = "upsertElement"
	MsgNavigateTo      = "navigateTo"
	MsgCreateElement   = "createElement"
	MsgRemoveElement   = "removeElement"
	MsgSetGlobalState  = "setGlobalState"
	MsgSetPageState    = "setPageState"
	MsgClearPageState  = "clearPageState"
	MsgClearFileInput  = "clearFileInput"
	MsgSetQueryParam   = "setQueryParam"
	MsgOpenDialog      = "openDialog"
	MsgCloseDialog     = "closeDialog"
)

// ServerMessage is one message of the server-to-client stream.
type ServerMessage interface {
	MessageType() string
	// Surface returns the addressed surface, or "" for messages that are not
	// scoped to one.
	Surface() string
}

type BeginRendering struct {
	SurfaceID       string             `json:"surfaceId"`
	RootComponentID string             `json:"rootComponentId"`
	Components      []SurfaceComponent `json:"components"`
	DataModel       []DataEntry        `json:"dataModel,omitempty"`
	CatalogID       string             `json:"catalogId,omitempty"`
}

type SurfaceUpdate struct {
	SurfaceID  string             `json:"surfaceId"`
	Components []SurfaceComponent `json:"components"`
	ParentID   string             `json:"parentId,omitempty"`
}

type DataModelUpdate struct {
	SurfaceID string      `json:"surfaceId"`
	Path      string      `json:"path,omitempty"`
	Contents  []DataEntry `json:"contents"`
}

type DeleteSurface struct {
	SurfaceID string `json:"surfaceId"`
}

type RequestElements struct {
	ElementIDs []string `json:"elementIds"`
}

type UpsertElement struct {
	ElementID string         `json:"element_id"`
	Value     map[string]any `json:"value"`
}

func (m *UpsertElement) UnmarshalJSON(data []byte) error {
	var raw struct {
		ElementID      string         `json:"element_id"`
		ElementIDCamel string         `json:"elementId"`
		Value          map[string]any `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ElementID = raw.ElementID
	if m.ElementID == "" {
		m.ElementID = raw.ElementIDCamel
	}
	m.Value = raw.Value
	return nil
}

type NavigateTo struct {
	Route       string            `json:"route"`
	Replace     bool              `json:"replace,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
}

type CreateElement struct {
	SurfaceID string           `json:"surfaceId"`
	ParentID  string           `json:"parentId"`
	Component SurfaceComponent `json:"component"`
	Index     *int             `json:"index,omitempty"`
}

type RemoveElement struct {
	SurfaceID string `json:"surfaceId"`
	ElementID string `json:"elementId"`
}

type SetGlobalState struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type SetPageState struct {
	PageID string `json:"pageId"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

type ClearPageState struct {
	PageID string `json:"pageId"`
}

type ClearFileInput struct {
	SurfaceID   string `json:"surfaceId"`
	ComponentID string `json:"componentId"`
}

type SetQueryParam struct {
	Key     string  `json:"key"`
	Value   *string `json:"value,omitempty"`
	Replace bool    `json:"replace,omitempty"`
}

type OpenDialog struct {
	Route       string            `json:"route"`
	Title       string            `json:"title,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	DialogID    string            `json:"dialogId,omitempty"`
}

type CloseDialog struct {
	DialogID string `json:"dialogId,omitempty"`
}

func (BeginRendering) MessageType() string  { return MsgBeginRendering }
func (SurfaceUpdate) MessageType() string   { return MsgSurfaceUpdate }
func (DataModelUpdate) MessageType() string { return MsgDataModelUpdate }
func (DeleteSurface) MessageType() string   { return MsgDeleteSurface }
func (RequestElements) MessageType() string { return MsgRequestElements }
func (UpsertElement) MessageType() string   { return MsgUpsertElement }
func (NavigateTo) MessageType() string      { return MsgNavigateTo }
func (CreateElement) MessageType() string   { return MsgCreateElement }
func (RemoveElement) MessageType() string   { return MsgRemoveElement }
func (SetGlobalState) MessageType() string  { return MsgSetGlobalState }
func (SetPageState) MessageType() string    { return MsgSetPageState }
func (ClearPageState) MessageType() string  { return MsgClearPageState }
func (ClearFileInput) MessageType() string  { return MsgClearFileInput }
func (SetQueryParam) MessageType() string   { return MsgSetQueryParam }
func (OpenDialog) MessageType() string      { return MsgOpenDialog }
func (CloseDialog) MessageType() string     { return MsgCloseDialog }

func (m BeginRendering) Surface() string  { return m.SurfaceID }
func (m SurfaceUpdate) Surface() string   { return m.SurfaceID }
func (m DataModelUpdate) Surface() string { return m.SurfaceID }
func (m DeleteSurface) Surface() string   { return m.SurfaceID }
func (RequestElements) Surface() string   { return "" }
func (m UpsertElement) Surface() string {
	surfaceID, _ := SplitElementID(m.ElementID)
	return surfaceID
}
func (NavigateTo) Surface() string       { return "" }
func (m CreateElement) Surface() string  { return m.SurfaceID }
func (m RemoveElement) Surface() string  { return m.SurfaceID }
func (SetGlobalState) Surface() string   { return "" }
func (SetPageState) Surface() string     { return "" }
func (ClearPageState) Surface() string   { return "" }
func (m ClearFileInput) Surface() string { return m.SurfaceID }
func (SetQueryParam) Surface() string    { return "" }
func (OpenDialog) Surface() string       { return "" }
func (CloseDialog) Surface() string      { return "" }

// IsSideChannel reports whether a message type is consumed outside the
// surface reconciler.
func IsSideChannel(msgType string) bool {
	switch msgType {
	case MsgNavigateTo, MsgSetGlobalState, MsgSetPageState, MsgClearPageState,
		MsgClearFileInput, MsgSetQueryParam, MsgOpenDialog, MsgCloseDialog, MsgRequestElements:
		return true
	}
	return false
}

func newMessage(msgType string) (ServerMessage, error) {
	switch msgType {
	case MsgBeginRendering:
		return &BeginRendering{}, nil
	case MsgSurfaceUpdate:
		return &SurfaceUpdate{}, nil
	case MsgDataModelUpdate:
		return &DataModelUpdate{}, nil
	case MsgDeleteSurface:
		return &DeleteSurface{}, nil
	case MsgRequestElements:
		return &RequestElements{}, nil
	case MsgUpsertElement:
		return &UpsertElement{}, nil
	case MsgNavigateTo:
		return &NavigateTo{}, nil
	case MsgCreateElement:
		return &CreateElement{}, nil
	case MsgRemoveElement:
		return &RemoveElement{}, nil
	case MsgSetGlobalState:
		return &SetGlobalState{}, nil
	case MsgSetPageState:
		return &SetPageState{}, nil
	case MsgClearPageState:
		return &ClearPageState{}, nil
	case MsgClearFileInput:
		return &ClearFileInput{}, nil
	case MsgSetQueryParam:
		return &SetQueryParam{}, nil
	case MsgOpenDialog:
		return &OpenDialog{}, nil
	case MsgCloseDialog:
		return &CloseDialog{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType)
}

// DecodeServerMessage decodes one type-tagged server message. The returned
// message is a value, not a pointer.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message type: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("message type required")
	}
	ptr, err := newMessage(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return deref(ptr), nil
}

func deref(msg ServerMessage) ServerMessage {
	switch m := msg.(type) {
	case *BeginRendering:
		return *m
	case *SurfaceUpdate:
		return *m
	case *DataModelUpdate:
		return *m
	case *DeleteSurface:
		return *m
	case *RequestElements:
		return *m
	case *UpsertElement:
		return *m
	case *NavigateTo:
		return *m
	case *CreateElement:
		return *m
	case *RemoveElement:
		return *m
	case *SetGlobalState:
		return *m
	case *SetPageState:
		return *m
	case *ClearPageState:
		return *m
	case *ClearFileInput:
		return *m
	case *SetQueryParam:
		return *m
	case *OpenDialog:
		return *m
	case *CloseDialog:
		return *m
	}
	return msg
}

// EncodeServerMessage encodes a message with its type tag.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(msg.MessageType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// UserAction is emitted for interactive component events.
type UserAction struct {
	Name              string         `json:"name"`
	SurfaceID         string         `json:"surfaceId"`
	SourceComponentID string         `json:"sourceComponentId"`
	Timestamp         int64          `json:"timestamp"`
	Context           map[string]any `json:"context"`
}

func (a UserAction) MarshalJSON() ([]byte, error) {
	type alias UserAction
	ctx := a.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	a.Context = ctx
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "userAction", alias: alias(a)})
}

// ClientError reports a client-side failure for a surface back upstream.
type ClientError struct {
	SurfaceID   string `json:"surfaceId"`
	ComponentID string `json:"componentId,omitempty"`
	Message     string `json:"message"`
	Code        string `json:"code"`
}

func (e ClientError) MarshalJSON() ([]byte, error) {
	type alias ClientError
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "clientError", alias: alias(e)})
}
