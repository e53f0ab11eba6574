// Package wire decodes and validates messages at the process edge.
package wire

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/g960059/a2ui/internal/model"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	messageSchemaURL = "https://a2ui.local/schema/server_message.json"
	widgetSchemaURL  = "https://a2ui.local/schema/widget.json"
)

var (
	ErrUnknownType = model.ErrUnknownMessageType
	ErrInvalid     = errors.New("invalid message")
	ErrTooLarge    = errors.New("message too large")
)

// Frame is a server message with its optional per-surface sequence number.
type Frame struct {
	Seq     *int64
	Message model.ServerMessage
}

// Codec decodes server messages and widget definitions. Schema checks run
// only when validation is enabled; structural decoding always runs.
type Codec struct {
	messages *jsonschema.Schema
	widget   *jsonschema.Schema
	validate bool
	maxBytes int
}

func NewCodec(validate bool, maxBytes int) (*Codec, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for url, name := range map[string]string{
		messageSchemaURL: "schema/server_message.json",
		widgetSchemaURL:  "schema/widget.json",
	} {
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
	}
	messages, err := c.Compile(messageSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	widget, err := c.Compile(widgetSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile widget schema: %w", err)
	}
	return &Codec{messages: messages, widget: widget, validate: validate, maxBytes: maxBytes}, nil
}

func (c *Codec) checkSize(data []byte) error {
	if c.maxBytes > 0 && len(data) > c.maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), c.maxBytes)
	}
	return nil
}

// Decode decodes one message object.
func (c *Codec) Decode(data []byte) (Frame, error) {
	if err := c.checkSize(data); err != nil {
		return Frame{}, err
	}
	return c.decode(data)
}

func (c *Codec) decode(data []byte) (Frame, error) {
	msg, err := model.DecodeServerMessage(data)
	if err != nil {
		if errors.Is(err, model.ErrUnknownMessageType) {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var head struct {
		Seq *int64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: seq: %v", ErrInvalid, err)
	}
	if c.validate {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := c.messages.Validate(doc); err != nil {
			return Frame{}, fmt.Errorf("%w: %s: %v", ErrInvalid, msg.MessageType(), err)
		}
	}
	return Frame{Seq: head.Seq, Message: msg}, nil
}

// DecodeBatch decodes a single message object or a JSON array of them. The
// whole batch fails if any element fails.
func (c *Codec) DecodeBatch(data []byte) ([]Frame, error) {
	if err := c.checkSize(data); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		f, err := c.decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := make([]Frame, 0, len(items))
	for i, item := range items {
		f, err := c.decode(item)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// DecodeWidget decodes and validates a widget definition.
func (c *Codec) DecodeWidget(data []byte) (model.Widget, error) {
	if err := c.checkSize(data); err != nil {
		return model.Widget{}, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Widget{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.widget.Validate(doc); err != nil {
		return model.Widget{}, fmt.Errorf("%w: widget: %v", ErrInvalid, err)
	}
	var w model.Widget
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Widget{}, fmt.Errorf("%w: widget: %v", ErrInvalid, err)
	}
	return w, nil
}

// Encode writes a frame as a message object, adding seq when set.
func Encode(f Frame) ([]byte, error) {
	body, err := model.EncodeServerMessage(f.Message)
	if err != nil {
		return nil, err
	}
	if f.Seq == nil {
		return body, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	seq, _ := json.Marshal(*f.Seq)
	fields["seq"] = seq
	return json.Marshal(fields)
}
