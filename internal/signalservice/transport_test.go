package signalservice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTransportPutJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method: got %s, want PUT", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type: got %s", r.Header.Get("Content-Type"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "aci.2" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		body, _ := io.ReadAll(r.Body)
		var msg GroupControlMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		if msg.Type != ControlLeave {
			t.Errorf("type = %q", msg.Type)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, zerolog.Nop())
	_, status, err := tr.PutJSON(context.Background(), "/v1/groups/control/x", GroupControlMessage{Type: ControlLeave},
		&BasicAuth{Username: "aci.2", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("status = %d", status)
	}
}

func TestTransportGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/groups" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("GET should not carry a content type")
		}
		json.NewEncoder(w).Encode(GroupListResponse{Groups: []GroupEntity{{Name: "book club"}}})
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, zerolog.Nop())
	var resp GroupListResponse
	status, err := tr.GetJSON(context.Background(), "/v1/groups", nil, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK || len(resp.Groups) != 1 || resp.Groups[0].Name != "book club" {
		t.Fatalf("status %d resp %+v", status, resp)
	}
}

func TestTransportRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("body on attempt %d = %q", calls.Load()+1, body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, zerolog.Nop())
	tr.baseWait = time.Millisecond
	_, status, err := tr.Put(context.Background(), "/x", []byte(`{"a":1}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("status %d after %d calls", status, calls.Load())
	}
}

func TestTransportGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, zerolog.Nop())
	tr.baseWait = time.Millisecond
	_, status, err := tr.Get(context.Background(), "/x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", status)
	}
	if n := calls.Load(); n != int32(tr.maxRetries+1) {
		t.Fatalf("calls = %d", n)
	}
}
