package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gwillem/signal-reactions/internal/groups"
	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/signalservice"
	"github.com/gwillem/signal-reactions/internal/store"
	"github.com/gwillem/signal-reactions/internal/wire"
)

const (
	alice = "1f0e2d3c-4b5a-6978-8796-a5b4c3d2e1f0" // local account
	bob   = "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
	carol = "c0c0c0c0-0000-4000-8000-000000000001"
)

var masterKey = bytes.Repeat([]byte{5}, 32)

// newTestClient returns a client for alice in a group with bob, created by
// alice, and one message from alice at ts 1000.
func newTestClient(t *testing.T, opts ...Option) (*Client, string) {
	t.Helper()
	opts = append([]Option{WithDBPath(filepath.Join(t.TempDir(), "test.db"))}, opts...)
	c := NewClient(opts...)
	if err := c.SetAccount(Account{Number: "+15551234567", ACI: alice, DeviceID: 2, Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	id, err := groups.ID(masterKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.store.SaveGroup(ctx, &store.Group{GroupID: id, MasterKey: masterKey, Creator: alice, Name: "team"}); err != nil {
		t.Fatal(err)
	}
	if err := c.store.SetMembers(ctx, id, []string{alice, bob}, time.UnixMilli(500), time.UnixMilli(500)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.HandleEnvelope(ctx, wire.MarshalEnvelope(&wire.Envelope{
		Type: wire.EnvelopeReflected, Source: alice, Timestamp: 1000,
		Group: &wire.GroupContext{MasterKey: masterKey}, Body: "lunch?",
	})); err != nil {
		t.Fatal(err)
	}
	return c, id
}

func thumbsUp(sender string, action reaction.Action) Payload {
	return Payload{
		Target:   reaction.MessageRef{Author: alice, SentAt: 1000},
		Group:    reaction.GroupRef{MasterKey: masterKey},
		Sender:   sender,
		Action:   action,
		RawEmoji: []byte("👍"),
	}
}

func TestClientLoad(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	c := NewClient(WithDBPath(dbPath))
	if err := c.SetAccount(Account{Number: "+15551234567", ACI: strings.ToUpper(alice), DeviceID: 3, Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	c.Close()

	loaded := NewClient(WithDBPath(dbPath))
	defer loaded.Close()
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if loaded.Number() != "+15551234567" || loaded.DeviceID() != 3 || loaded.ACI() != alice {
		t.Fatalf("loaded %q %d %q", loaded.Number(), loaded.DeviceID(), loaded.ACI())
	}
}

func TestClientLoadWithoutAccount(t *testing.T) {
	c := NewClient(WithDBPath(filepath.Join(t.TempDir(), "empty.db")))
	defer c.Close()
	if err := c.Load(); err != ErrNoAccount {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
}

func TestNetworkThenReflectionConverge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, id := newTestClient(t, WithRegisterer(reg))
	events := c.Subscribe("test")
	ctx := context.Background()

	p := thumbsUp(bob, reaction.Apply)
	for _, origin := range []reaction.Origin{reaction.FromNetwork, reaction.FromReflection} {
		outcome, err := c.HandleReaction(ctx, origin, p)
		if err != nil {
			t.Fatal(err)
		}
		if outcome != reaction.Success {
			t.Fatalf("%v outcome = %v", origin, outcome)
		}
	}

	rs, err := c.Reactions(ctx, id, alice, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].Sender != bob || rs[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v", rs)
	}

	select {
	case ev := <-events:
		if ev.Trigger != reaction.TriggerRemote || ev.Action != reaction.Apply {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("expected one change event")
	}
	select {
	case ev := <-events:
		t.Fatalf("second delivery must not notify, got %+v", ev)
	default:
	}

	if got := testutil.CollectAndCount(reg, "reaction_tasks_total"); got != 2 {
		t.Fatalf("task series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(reg, "reaction_apply_effects_total"); got != 2 {
		t.Fatalf("effect series = %d, want added and unchanged", got)
	}
}

func TestWithdrawNeverApplied(t *testing.T) {
	c, id := newTestClient(t)
	ctx := context.Background()

	outcome, err := c.HandleReaction(ctx, reaction.FromReflection, thumbsUp(bob, reaction.Withdraw))
	if err != nil || outcome != reaction.Success {
		t.Fatalf("withdraw = %v, %v", outcome, err)
	}
	if rs, _ := c.Reactions(ctx, id, alice, 1000); len(rs) != 0 {
		t.Fatalf("reactions = %+v", rs)
	}
}

func TestNonMemberIsDiscarded(t *testing.T) {
	c, id := newTestClient(t)
	ctx := context.Background()

	outcome, err := c.HandleReaction(ctx, reaction.FromReflection, thumbsUp(carol, reaction.Apply))
	if err != nil || outcome != reaction.Discard {
		t.Fatalf("outcome = %v, %v", outcome, err)
	}
	if rs, _ := c.Reactions(ctx, id, alice, 1000); len(rs) != 0 {
		t.Fatalf("reactions = %+v", rs)
	}
}

func TestUnknownGroupRequestsSync(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg signalservice.GroupControlMessage
		json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		paths = append(paths, r.URL.Path+" "+msg.Type)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	c, _ := newTestClient(t, WithAPIURL(api.URL))
	p := thumbsUp(bob, reaction.Apply)
	p.Group = reaction.GroupRef{MasterKey: bytes.Repeat([]byte{6}, 32), Creator: carol}

	outcome, err := c.HandleReaction(context.Background(), reaction.FromNetwork, p)
	if err != nil || outcome != reaction.Discard {
		t.Fatalf("outcome = %v, %v", outcome, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/v1/groups/control/"+carol+" sync-request" {
		t.Fatalf("control messages = %v", paths)
	}
}

func TestClientReceive(t *testing.T) {
	acks := make(chan uint64, 8)
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/websocket/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != alice+".2" {
			t.Errorf("auth user = %q", user)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		send := func(id uint64, env *wire.Envelope) {
			conn.Write(ctx, websocket.MessageBinary, wire.MarshalFrame(&wire.Frame{
				Type:    wire.FrameRequest,
				Request: &wire.Request{Verb: "PUT", Path: "/api/v1/message", ID: id, Body: wire.MarshalEnvelope(env)},
			}))
		}
		group := &wire.GroupContext{MasterKey: masterKey}
		send(10, &wire.Envelope{Type: wire.EnvelopeIncoming, Source: bob, Timestamp: 2000, Group: group, Body: "yes!"})
		send(11, &wire.Envelope{Type: wire.EnvelopeIncoming, Source: bob, Timestamp: 2001, Group: group,
			Reaction: &wire.Reaction{Emoji: []byte("🎉"), TargetAuthor: alice, TargetSentAt: 1000}})

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			f, err := wire.UnmarshalFrame(data)
			if err == nil && f.Response != nil {
				acks <- f.Response.ID
			}
		}
	}))
	defer ws.Close()

	c, id := newTestClient(t, WithWSURL("ws"+strings.TrimPrefix(ws.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var results []Result
	for res, err := range c.Receive(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, res)
		if len(results) == 2 {
			break
		}
	}
	if results[0].Kind != signalservice.ResultText || results[1].Kind != signalservice.ResultReaction {
		t.Fatalf("results = %+v", results)
	}
	if results[1].Outcome != reaction.Success {
		t.Fatalf("reaction outcome = %v", results[1].Outcome)
	}

	got := map[uint64]bool{}
	for len(got) < 2 {
		select {
		case a := <-acks:
			got[a] = true
		case <-ctx.Done():
			t.Fatalf("acks = %v", got)
		}
	}

	rs, err := c.Reactions(context.Background(), id, alice, 1000)
	if err != nil || len(rs) != 1 || rs[0].Emoji != "🎉" {
		t.Fatalf("reactions = %+v, %v", rs, err)
	}
}
