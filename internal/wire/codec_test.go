package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/model"
)

func newCodec(t *testing.T, validate bool) *Codec {
	t.Helper()
	c, err := NewCodec(validate, 1<<20)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestDecodeWithSeq(t *testing.T) {
	c := newCodec(t, true)
	f, err := c.Decode([]byte(`{"type":"deleteSurface","surfaceId":"s1","seq":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Seq == nil || *f.Seq != 7 {
		t.Fatalf("seq = %v", f.Seq)
	}
	if diff := cmp.Diff(model.DeleteSurface{SurfaceID: "s1"}, f.Message); diff != "" {
		t.Fatalf("message (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	c := newCodec(t, true)
	cases := []string{
		`{"type":"beginRendering","rootComponentId":"r"}`,
		`{"type":"surfaceUpdate","surfaceId":"s","components":[{"id":"a"}]}`,
		`{"type":"upsertElement","value":{"type":"setText"}}`,
		`{"type":"removeElement","surfaceId":"s"}`,
		`{"type":"deleteSurface","surfaceId":"s","seq":-1}`,
		`{"type":"setQueryParam","key":"q","value":3}`,
	}
	for _, raw := range cases {
		if _, err := c.Decode([]byte(raw)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", raw, err)
		}
	}
}

func TestDecodeWithoutValidationStillDecodes(t *testing.T) {
	c := newCodec(t, false)
	f, err := c.Decode([]byte(`{"type":"removeElement","surfaceId":"s"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Message.MessageType() != model.MsgRemoveElement {
		t.Fatalf("type = %s", f.Message.MessageType())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	c := newCodec(t, true)
	if _, err := c.Decode([]byte(`{"type":"explode"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeBatch(t *testing.T) {
	c := newCodec(t, true)
	frames, err := c.DecodeBatch([]byte(` [
		{"type":"beginRendering","surfaceId":"s","rootComponentId":"r","components":[{"id":"r","component":{"type":"column"}}]},
		{"type":"upsertElement","elementId":"s/r","value":{"type":"setStyle","style":{}}}
	]`))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(frames) != 2 || frames[1].Message.MessageType() != model.MsgUpsertElement {
		t.Fatalf("frames = %+v", frames)
	}
	if _, err := c.DecodeBatch([]byte(`[{"type":"deleteSurface","surfaceId":"s"},{"type":"nope"}]`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected the batch to fail, got %v", err)
	}
	single, err := c.DecodeBatch([]byte(`{"type":"closeDialog"}`))
	if err != nil || len(single) != 1 {
		t.Fatalf("single = %v, %v", single, err)
	}
}

func TestDecodeTooLarge(t *testing.T) {
	c, err := NewCodec(true, 16)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if _, err := c.Decode([]byte(`{"type":"deleteSurface","surfaceId":"s"}`)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	c := newCodec(t, true)
	seq := int64(3)
	raw, err := Encode(Frame{Seq: &seq, Message: model.NavigateTo{Route: "/home"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), `"seq":3`) {
		t.Fatalf("seq missing: %s", raw)
	}
	f, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(model.NavigateTo{Route: "/home"}, f.Message); diff != "" {
		t.Fatalf("message (-want +got):\n%s", diff)
	}
}

func TestDecodeWidget(t *testing.T) {
	c := newCodec(t, true)
	w, err := c.DecodeWidget([]byte(`{
		"id":"card","version":"1.2.0","rootComponentId":"root",
		"components":[{"id":"root","component":{"type":"card"}}],
		"actions":[{"id":"open","label":"Open"}]
	}`))
	if err != nil {
		t.Fatalf("decode widget: %v", err)
	}
	if w.ID != "card" || w.Version != "1.2.0" || len(w.Components) != 1 || w.Components[0].Component.Type != "card" {
		t.Fatalf("widget = %+v", w)
	}
	for _, raw := range []string{
		`{"id":"card","rootComponentId":"root","components":[]}`,
		`{"id":"card","version":"one","rootComponentId":"root","components":[{"id":"root","component":{"type":"card"}}]}`,
		`{"rootComponentId":"root","components":[{"id":"root","component":{"type":"card"}}]}`,
	} {
		if _, err := c.DecodeWidget([]byte(raw)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", raw, err)
		}
	}
}
