package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/signal-reactions/internal/reaction"
)

// EnvelopeType tells whether an envelope came from a peer or was reflected
// by one of our own devices.
type EnvelopeType int

const (
	EnvelopeIncoming  EnvelopeType = 1
	EnvelopeReflected EnvelopeType = 2
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeIncoming:
		return "incoming"
	case EnvelopeReflected:
		return "reflected"
	default:
		return fmt.Sprintf("EnvelopeType(%d)", int(t))
	}
}

// Envelope is a delivered group message.
type Envelope struct {
	Type         EnvelopeType
	Source       string // sender ACI, canonical form
	SourceDevice uint32
	Timestamp    uint64 // sender's sent timestamp, ms
	Group        *GroupContext
	Reaction     *Reaction
	Body         string
	Delete       *Delete
}

// GroupContext identifies the group an envelope belongs to.
type GroupContext struct {
	MasterKey []byte
	Revision  uint32
	Creator   string // optional
}

// Reaction is the reaction content of an envelope.
type Reaction struct {
	Emoji        []byte // raw, validated later
	Remove       bool
	TargetAuthor string
	TargetSentAt uint64
}

// Delete removes one of the sender's own messages for everyone.
type Delete struct {
	TargetSentAt uint64
}

// MarshalEnvelope encodes e.
func MarshalEnvelope(e *Envelope) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(e.Type))
	b = appendString(b, 2, e.Source)
	if e.SourceDevice != 0 {
		b = appendVarint(b, 3, uint64(e.SourceDevice))
	}
	b = appendVarint(b, 4, e.Timestamp)
	if g := e.Group; g != nil {
		var gb []byte
		gb = appendBytes(gb, 1, g.MasterKey)
		gb = appendVarint(gb, 2, uint64(g.Revision))
		if g.Creator != "" {
			gb = appendString(gb, 3, g.Creator)
		}
		b = appendBytes(b, 5, gb)
	}
	if r := e.Reaction; r != nil {
		var rb []byte
		rb = appendBytes(rb, 1, r.Emoji)
		rb = appendVarint(rb, 2, protowire.EncodeBool(r.Remove))
		rb = appendString(rb, 4, r.TargetAuthor)
		rb = appendVarint(rb, 5, r.TargetSentAt)
		b = appendBytes(b, 6, rb)
	}
	if e.Body != "" {
		b = appendString(b, 7, e.Body)
	}
	if d := e.Delete; d != nil {
		b = appendBytes(b, 8, appendVarint(nil, 1, d.TargetSentAt))
	}
	return b
}

// UnmarshalEnvelope decodes and validates an envelope. Service identifiers
// are returned in canonical form.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	e := new(Envelope)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1, 3, 4:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
		case 2, 5, 6, 7, 8:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
		}
		switch fl.num {
		case 1:
			e.Type = EnvelopeType(fl.varint)
		case 2:
			e.Source = string(fl.bytes)
		case 3:
			e.SourceDevice = uint32(fl.varint)
		case 4:
			e.Timestamp = fl.varint
		case 5:
			if e.Group, err = unmarshalGroupContext(fl.bytes); err != nil {
				return nil, fmt.Errorf("group context: %w", err)
			}
		case 6:
			if e.Reaction, err = unmarshalReaction(fl.bytes); err != nil {
				return nil, fmt.Errorf("reaction: %w", err)
			}
		case 7:
			e.Body = string(fl.bytes)
		case 8:
			if e.Delete, err = unmarshalDelete(fl.bytes); err != nil {
				return nil, fmt.Errorf("delete: %w", err)
			}
		}
	}

	if e.Type != EnvelopeIncoming && e.Type != EnvelopeReflected {
		return nil, fmt.Errorf("%w: envelope type %d", ErrMalformed, e.Type)
	}
	src, err := CanonicalACI(e.Source)
	if err != nil {
		return nil, err
	}
	e.Source = src
	return e, nil
}

func unmarshalGroupContext(data []byte) (*GroupContext, error) {
	g := new(GroupContext)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
			g.MasterKey = append([]byte(nil), fl.bytes...)
		case 2:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
			g.Revision = uint32(fl.varint)
		case 3:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
			g.Creator = string(fl.bytes)
		}
	}
	if g.Creator != "" {
		c, err := CanonicalACI(g.Creator)
		if err != nil {
			return nil, err
		}
		g.Creator = c
	}
	return g, nil
}

func unmarshalReaction(data []byte) (*Reaction, error) {
	r := new(Reaction)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1, 4:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
		case 2, 5:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
		}
		switch fl.num {
		case 1:
			r.Emoji = append([]byte(nil), fl.bytes...)
		case 2:
			r.Remove = protowire.DecodeBool(fl.varint)
		case 4:
			r.TargetAuthor = string(fl.bytes)
		case 5:
			r.TargetSentAt = fl.varint
		}
	}
	author, err := CanonicalACI(r.TargetAuthor)
	if err != nil {
		return nil, fmt.Errorf("target author: %w", err)
	}
	r.TargetAuthor = author
	return r, nil
}

func unmarshalDelete(data []byte) (*Delete, error) {
	d := new(Delete)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		if fl.num == 1 {
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
			d.TargetSentAt = fl.varint
		}
	}
	if d.TargetSentAt == 0 {
		return nil, fmt.Errorf("%w: missing target timestamp", ErrMalformed)
	}
	return d, nil
}

// Origin maps the envelope type to a reaction origin.
func (e *Envelope) Origin() reaction.Origin {
	if e.Type == EnvelopeReflected {
		return reaction.FromReflection
	}
	return reaction.FromNetwork
}

// GroupRef returns the group reference of a group envelope.
func (e *Envelope) GroupRef() reaction.GroupRef {
	if e.Group == nil {
		return reaction.GroupRef{}
	}
	return reaction.GroupRef{
		MasterKey: e.Group.MasterKey,
		Creator:   e.Group.Creator,
		Revision:  e.Group.Revision,
	}
}

// ReactionPayload returns the reaction carried by a group envelope. ok is
// false for envelopes that are not group reactions.
func (e *Envelope) ReactionPayload() (p reaction.Payload, ok bool) {
	if e.Reaction == nil || e.Group == nil {
		return reaction.Payload{}, false
	}
	action := reaction.Apply
	if e.Reaction.Remove {
		action = reaction.Withdraw
	}
	return reaction.Payload{
		Target: reaction.MessageRef{
			Author: e.Reaction.TargetAuthor,
			SentAt: e.Reaction.TargetSentAt,
		},
		Group:    e.GroupRef(),
		Sender:   e.Source,
		Action:   action,
		RawEmoji: e.Reaction.Emoji,
	}, true
}
