// Package wire encodes the protobuf messages exchanged with the server:
// WebSocket frames and the envelopes they carry.
//
// Messages are encoded field by field with protowire so that unknown fields
// are skipped and malformed input never panics.
package wire

import (
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for input that is not a valid message.
var ErrMalformed = errors.New("wire: malformed message")

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// fields walks the top-level fields of b. Groups and fixed-width fields are
// skipped since none of our messages use them.
func fields(b []byte) iter.Seq2[field, error] {
	return func(yield func(field, error) bool) {
		for len(b) > 0 {
			num, typ, n := protowire.ConsumeTag(b)
			if n < 0 {
				yield(field{}, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n)))
				return
			}
			b = b[n:]
			f := field{num: num, typ: typ}
			switch typ {
			case protowire.VarintType:
				f.varint, n = protowire.ConsumeVarint(b)
			case protowire.BytesType:
				f.bytes, n = protowire.ConsumeBytes(b)
			default:
				n = protowire.ConsumeFieldValue(num, typ, b)
			}
			if n < 0 {
				yield(field{}, fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n)))
				return
			}
			b = b[n:]
			if typ != protowire.VarintType && typ != protowire.BytesType {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, f.num, f.typ)
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// CanonicalACI parses a service identifier and returns its lowercase form.
func CanonicalACI(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: service id %q: %w", ErrMalformed, s, err)
	}
	return id.String(), nil
}
