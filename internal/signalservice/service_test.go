package signalservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/groups"
	"github.com/gwillem/signal-reactions/internal/store"
)

const (
	alice = "1f0e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"
	bob   = "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGroupControlMessages(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg GroupControlMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		if msg.Timestamp != 1234 {
			t.Errorf("timestamp = %d", msg.Timestamp)
		}
		mu.Lock()
		got = append(got, r.URL.Path+" "+msg.Type+" "+msg.GroupID)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(ServiceConfig{APIURL: srv.URL, Logger: zerolog.Nop()})
	svc.now = func() time.Time { return time.UnixMilli(1234) }

	ctx := context.Background()
	if err := svc.SendSyncRequest(ctx, "g1", bob); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendLeave(ctx, "g1", alice); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendEmptySetup(ctx, "g2", alice); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"/v1/groups/control/" + bob + " sync-request g1",
		"/v1/groups/control/" + alice + " leave g1",
		"/v1/groups/control/" + alice + " empty-setup g2",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("got\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestGroupControlFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown recipient", http.StatusNotFound)
	}))
	defer srv.Close()

	svc := NewService(ServiceConfig{APIURL: srv.URL, Logger: zerolog.Nop()})
	if err := svc.SendLeave(context.Background(), "g1", alice); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestSyncGroups(t *testing.T) {
	const (
		carol = "2b3c4d5e-6f70-4182-93a4-b5c6d7e8f901"
		dave  = "3c4d5e6f-7081-4293-a4b5-c6d7e8f90123"
	)
	key := bytes.Repeat([]byte{3}, 32)
	formerKey := bytes.Repeat([]byte{4}, 32)
	kickedKey := bytes.Repeat([]byte{5}, 32)

	climbing := GroupEntity{
		MasterKey: base64.StdEncoding.EncodeToString(key),
		Creator:   alice,
		Name:      "climbing",
		Revision:  7,
		Members: []MemberEntity{
			{ACI: alice, JoinedAt: 1000},
			{ACI: bob, JoinedAt: 5000},
			{ACI: carol}, // join time not reported
		},
	}
	kicked := GroupEntity{
		MasterKey: base64.StdEncoding.EncodeToString(kickedKey),
		Creator:   carol,
		Members:   []MemberEntity{{ACI: carol}},
	}

	var mu sync.Mutex
	list := []GroupEntity{
		climbing,
		kicked,
		{MasterKey: "not base64!"},
		{MasterKey: base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewEncoder(w).Encode(GroupListResponse{Groups: list})
	}))
	defer srv.Close()

	st := openStore(t)
	ctx := context.Background()
	formerID, _ := groups.ID(formerKey)
	if err := st.SaveGroup(ctx, &store.Group{GroupID: formerID, MasterKey: formerKey, Creator: carol}); err != nil {
		t.Fatal(err)
	}

	svc := NewService(ServiceConfig{APIURL: srv.URL, Store: st, LocalACI: bob, Logger: zerolog.Nop()})

	n, err := svc.SyncGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("synced %d groups, want 2", n)
	}

	id, _ := groups.ID(key)
	g, err := st.GetGroup(ctx, id)
	if err != nil || g == nil {
		t.Fatalf("group = %v, %v", g, err)
	}
	if g.Name != "climbing" || g.Creator != alice || g.Revision != 7 || g.Left || len(g.MemberACIs) != 3 {
		t.Fatalf("group = %+v", g)
	}
	m, err := st.GetMember(ctx, id, bob)
	if err != nil || m == nil {
		t.Fatalf("bob = %v, %v", m, err)
	}
	if m.JoinedAt.UnixMilli() != 5000 {
		t.Fatalf("bob joined at %d, want 5000", m.JoinedAt.UnixMilli())
	}
	m, err = st.GetMember(ctx, id, carol)
	if err != nil || m == nil {
		t.Fatalf("carol = %v, %v", m, err)
	}
	if !m.JoinedAt.IsZero() {
		t.Fatalf("carol joined at %v, want unknown on first sync", m.JoinedAt)
	}

	kickedID, _ := groups.ID(kickedKey)
	if g, _ := st.GetGroup(ctx, kickedID); g == nil || !g.Left {
		t.Fatalf("group without us = %+v, want left", g)
	}
	if g, _ := st.GetGroup(ctx, formerID); g == nil || !g.Left {
		t.Fatalf("unlisted group = %+v, want left", g)
	}

	// dave shows up in a later sync without a join time.
	mu.Lock()
	climbing.Members = append(climbing.Members, MemberEntity{ACI: dave})
	list = []GroupEntity{climbing}
	mu.Unlock()

	if _, err := svc.SyncGroups(ctx); err != nil {
		t.Fatal(err)
	}
	m, err = st.GetMember(ctx, id, dave)
	if err != nil || m == nil {
		t.Fatalf("dave = %v, %v", m, err)
	}
	if m.JoinedAt.IsZero() || m.JoinedAt.After(time.Now()) || m.JoinedAt.Before(g.UpdatedAt) {
		t.Fatalf("dave joined at %v, want the previous sync time", m.JoinedAt)
	}
	if m, _ := st.GetMember(ctx, id, carol); !m.JoinedAt.IsZero() {
		t.Fatalf("carol's unknown join time changed to %v", m.JoinedAt)
	}
}
