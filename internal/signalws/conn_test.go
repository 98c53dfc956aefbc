package signalws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/gwillem/signal-reactions/internal/wire"
)

// wsURL converts an httptest server URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f *wire.Frame) error {
	return ws.Write(ctx, websocket.MessageBinary, wire.MarshalFrame(f))
}

func readFrame(ctx context.Context, ws *websocket.Conn) (*wire.Frame, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalFrame(data)
}

func requestFrame(id uint64, path string, body []byte) *wire.Frame {
	return &wire.Frame{
		Type:    wire.FrameRequest,
		Request: &wire.Request{Verb: "PUT", Path: path, ID: id, Body: body},
	}
}

func TestReadAndACK(t *testing.T) {
	acked := make(chan *wire.Response, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer ws.CloseNow()

		ctx := r.Context()
		if err := writeFrame(ctx, ws, requestFrame(1, "/api/v1/message", []byte("envelope"))); err != nil {
			t.Errorf("write: %v", err)
			return
		}
		f, err := readFrame(ctx, ws)
		if err != nil {
			t.Errorf("read ack: %v", err)
			return
		}
		acked <- f.Response
		ws.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	f, err := conn.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != wire.FrameRequest || f.Request.Path != "/api/v1/message" || string(f.Request.Body) != "envelope" {
		t.Fatalf("frame = %+v", f.Request)
	}
	if err := conn.SendResponse(ctx, f.Request.ID, 200, "OK"); err != nil {
		t.Fatal(err)
	}

	resp := <-acked
	if resp == nil || resp.ID != 1 || resp.Status != 200 {
		t.Fatalf("ack = %+v", resp)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ws.Write(r.Context(), websocket.MessageBinary, []byte{0x0a, 0xff})
		ws.Read(r.Context())
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()
	if _, err := conn.ReadFrame(ctx); err == nil {
		t.Fatal("expected decode error")
	}
}
