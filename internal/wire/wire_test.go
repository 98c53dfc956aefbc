package wire

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/signal-reactions/internal/reaction"
)

const (
	alice = "1f0e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"
	bob   = "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	in := &Envelope{
		Type:         EnvelopeReflected,
		Source:       alice,
		SourceDevice: 2,
		Timestamp:    1700000000123,
		Group:        &GroupContext{MasterKey: key, Revision: 4, Creator: bob},
		Reaction: &Reaction{
			Emoji:        []byte("👍"),
			Remove:       true,
			TargetAuthor: bob,
			TargetSentAt: 1700000000000,
		},
	}
	out, err := UnmarshalEnvelope(MarshalEnvelope(in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != EnvelopeReflected || out.Source != alice || out.SourceDevice != 2 || out.Timestamp != in.Timestamp {
		t.Fatalf("header = %+v", out)
	}
	if out.Origin() != reaction.FromReflection {
		t.Fatalf("origin = %v", out.Origin())
	}

	p, ok := out.ReactionPayload()
	if !ok {
		t.Fatal("expected reaction payload")
	}
	if p.Action != reaction.Withdraw || p.Sender != alice || string(p.RawEmoji) != "👍" {
		t.Fatalf("payload = %+v", p)
	}
	if p.Target != (reaction.MessageRef{Author: bob, SentAt: 1700000000000}) {
		t.Fatalf("target = %+v", p.Target)
	}
	if !bytes.Equal(p.Group.MasterKey, key) || p.Group.Creator != bob || p.Group.Revision != 4 {
		t.Fatalf("group = %+v", p.Group)
	}
}

func TestEnvelopeCanonicalizesACIs(t *testing.T) {
	in := &Envelope{
		Type:      EnvelopeIncoming,
		Source:    "1F0E2D3C-4B5A-6978-8796-A5B4C3D2E1F0",
		Timestamp: 1,
		Group:     &GroupContext{MasterKey: make([]byte, 32)},
		Reaction:  &Reaction{Emoji: []byte("x"), TargetAuthor: "{" + bob + "}", TargetSentAt: 1},
	}
	out, err := UnmarshalEnvelope(MarshalEnvelope(in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Source != alice || out.Reaction.TargetAuthor != bob {
		t.Fatalf("got source %q author %q", out.Source, out.Reaction.TargetAuthor)
	}
}

func TestTextEnvelopeHasNoPayload(t *testing.T) {
	in := &Envelope{Type: EnvelopeIncoming, Source: alice, Timestamp: 5, Group: &GroupContext{MasterKey: make([]byte, 32)}, Body: "hi"}
	out, err := UnmarshalEnvelope(MarshalEnvelope(in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Body != "hi" {
		t.Fatalf("body = %q", out.Body)
	}
	if _, ok := out.ReactionPayload(); ok {
		t.Fatal("text envelope should not carry a reaction")
	}
}

func TestDeleteEnvelope(t *testing.T) {
	in := &Envelope{
		Type:      EnvelopeReflected,
		Source:    alice,
		Timestamp: 9,
		Group:     &GroupContext{MasterKey: make([]byte, 32), Revision: 4},
		Delete:    &Delete{TargetSentAt: 7},
	}
	out, err := UnmarshalEnvelope(MarshalEnvelope(in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Delete == nil || out.Delete.TargetSentAt != 7 {
		t.Fatalf("delete = %+v", out.Delete)
	}
	if ref := out.GroupRef(); ref.Revision != 4 || len(ref.MasterKey) != 32 {
		t.Fatalf("group ref = %+v", ref)
	}
	if _, ok := out.ReactionPayload(); ok {
		t.Fatal("delete envelope should not carry a reaction")
	}
}

func TestUnmarshalEnvelopeMalformed(t *testing.T) {
	valid := MarshalEnvelope(&Envelope{Type: EnvelopeIncoming, Source: alice, Timestamp: 1})

	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, 1, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "incoming")

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", valid[:len(valid)-3]},
		{"bad tag", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"wrong wire type", wrongType},
		{"unknown envelope type", MarshalEnvelope(&Envelope{Type: 9, Source: alice})},
		{"bad source", MarshalEnvelope(&Envelope{Type: EnvelopeIncoming, Source: "+31600000000"})},
		{"bad target author", MarshalEnvelope(&Envelope{
			Type: EnvelopeIncoming, Source: alice,
			Reaction: &Reaction{Emoji: []byte("x"), TargetAuthor: "nobody"},
		})},
		{"delete without target", MarshalEnvelope(&Envelope{Type: EnvelopeIncoming, Source: alice, Delete: &Delete{}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalEnvelope(tt.data); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b := MarshalEnvelope(&Envelope{Type: EnvelopeIncoming, Source: alice, Timestamp: 3})
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 42)
	b = appendString(b, 100, "future")
	out, err := UnmarshalEnvelope(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Timestamp != 3 {
		t.Fatalf("timestamp = %d", out.Timestamp)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	req := &Frame{Type: FrameRequest, Request: &Request{
		Verb:    "PUT",
		Path:    "/api/v1/message",
		Body:    []byte{1, 2, 3},
		ID:      77,
		Headers: []string{"X-Signal-Timestamp:1"},
	}}
	got, err := UnmarshalFrame(MarshalFrame(req))
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != FrameRequest || got.Request == nil || got.Response != nil {
		t.Fatalf("frame = %+v", got)
	}
	r := got.Request
	if r.Verb != "PUT" || r.Path != "/api/v1/message" || r.ID != 77 || !bytes.Equal(r.Body, []byte{1, 2, 3}) || len(r.Headers) != 1 {
		t.Fatalf("request = %+v", r)
	}

	ack, err := UnmarshalFrame(MarshalFrame(NewResponse(77, 200, "OK")))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Type != FrameResponse || ack.Response.ID != 77 || ack.Response.Status != 200 || ack.Response.Message != "OK" {
		t.Fatalf("ack = %+v", ack.Response)
	}
}
