// Package signalws carries wire frames over the chat service WebSocket.
package signalws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/gwillem/signal-reactions/internal/wire"
)

// Conn is a single WebSocket connection exchanging wire frames.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a WebSocket connection to url. tlsConf and headers are optional.
func Dial(ctx context.Context, url string, tlsConf *tls.Config, headers ...http.Header) (*Conn, error) {
	opts := &websocket.DialOptions{}
	if tlsConf != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConf},
		}
	}
	if len(headers) > 0 {
		opts.HTTPHeader = headers[0]
	}
	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("signalws: dial: %w", err)
	}
	// Envelopes with large bodies exceed the library's 32 KiB default.
	ws.SetReadLimit(1 << 20)
	return &Conn{ws: ws}, nil
}

// ReadFrame reads the next frame.
func (c *Conn) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("signalws: read: %w", err)
	}
	f, err := wire.UnmarshalFrame(data)
	if err != nil {
		return nil, fmt.Errorf("signalws: decode frame: %w", err)
	}
	return f, nil
}

// WriteFrame sends f as a binary message.
func (c *Conn) WriteFrame(ctx context.Context, f *wire.Frame) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, wire.MarshalFrame(f)); err != nil {
		return fmt.Errorf("signalws: write: %w", err)
	}
	return nil
}

// SendResponse answers request id. A 200 response is an ACK and tells the
// server not to redeliver.
func (c *Conn) SendResponse(ctx context.Context, id uint64, status uint32, message string) error {
	return c.WriteFrame(ctx, wire.NewResponse(id, status, message))
}

// Close sends a normal closure frame and closes the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// CloseNow closes the connection without a close frame.
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}
