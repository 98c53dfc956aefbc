package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameType distinguishes requests from responses on the WebSocket.
type FrameType int

const (
	FrameRequest  FrameType = 1
	FrameResponse FrameType = 2
)

// Frame is a WebSocketMessage.
type Frame struct {
	Type     FrameType
	Request  *Request
	Response *Response
}

// Request is a WebSocketRequestMessage.
type Request struct {
	Verb    string
	Path    string
	Body    []byte
	ID      uint64
	Headers []string
}

// Response is a WebSocketResponseMessage.
type Response struct {
	ID      uint64
	Status  uint32
	Message string
	Body    []byte
	Headers []string
}

// NewResponse builds a response frame, typically an ACK for request id.
func NewResponse(id uint64, status uint32, message string) *Frame {
	return &Frame{
		Type:     FrameResponse,
		Response: &Response{ID: id, Status: status, Message: message},
	}
}

// MarshalFrame encodes f.
func MarshalFrame(f *Frame) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(f.Type))
	if r := f.Request; r != nil {
		var rb []byte
		rb = appendString(rb, 1, r.Verb)
		rb = appendString(rb, 2, r.Path)
		if r.Body != nil {
			rb = appendBytes(rb, 3, r.Body)
		}
		rb = appendVarint(rb, 4, r.ID)
		for _, h := range r.Headers {
			rb = appendString(rb, 5, h)
		}
		b = appendBytes(b, 2, rb)
	}
	if r := f.Response; r != nil {
		var rb []byte
		rb = appendVarint(rb, 1, r.ID)
		rb = appendVarint(rb, 2, uint64(r.Status))
		rb = appendString(rb, 3, r.Message)
		if r.Body != nil {
			rb = appendBytes(rb, 4, r.Body)
		}
		for _, h := range r.Headers {
			rb = appendString(rb, 5, h)
		}
		b = appendBytes(b, 3, rb)
	}
	return b
}

// UnmarshalFrame decodes a frame.
func UnmarshalFrame(data []byte) (*Frame, error) {
	f := new(Frame)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
			f.Type = FrameType(fl.varint)
		case 2:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
			r, err := unmarshalRequest(fl.bytes)
			if err != nil {
				return nil, fmt.Errorf("request: %w", err)
			}
			f.Request = r
		case 3:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
			r, err := unmarshalResponse(fl.bytes)
			if err != nil {
				return nil, fmt.Errorf("response: %w", err)
			}
			f.Response = r
		}
	}
	return f, nil
}

func unmarshalRequest(data []byte) (*Request, error) {
	r := new(Request)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1, 2, 3, 5:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
		case 4:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
		}
		switch fl.num {
		case 1:
			r.Verb = string(fl.bytes)
		case 2:
			r.Path = string(fl.bytes)
		case 3:
			r.Body = append([]byte(nil), fl.bytes...)
		case 4:
			r.ID = fl.varint
		case 5:
			r.Headers = append(r.Headers, string(fl.bytes))
		}
	}
	return r, nil
}

func unmarshalResponse(data []byte) (*Response, error) {
	r := new(Response)
	for fl, err := range fields(data) {
		if err != nil {
			return nil, err
		}
		switch fl.num {
		case 1, 2:
			if err := fl.expect(protowire.VarintType); err != nil {
				return nil, err
			}
		case 3, 4, 5:
			if err := fl.expect(protowire.BytesType); err != nil {
				return nil, err
			}
		}
		switch fl.num {
		case 1:
			r.ID = fl.varint
		case 2:
			r.Status = uint32(fl.varint)
		case 3:
			r.Message = string(fl.bytes)
		case 4:
			r.Body = append([]byte(nil), fl.bytes...)
		case 5:
			r.Headers = append(r.Headers, string(fl.bytes))
		}
	}
	return r, nil
}
