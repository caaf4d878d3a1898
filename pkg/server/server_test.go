package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/scopebind/pkg/snapshot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	if mutate != nil {
		mutate(cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, m ClientMessage) {
	t.Helper()
	if err := ws.WriteJSON(m); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m ServerMessage
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func subscribe(t *testing.T, ws *websocket.Conn, id, room, event string) {
	t.Helper()
	send(t, ws, ClientMessage{Op: OpSubscribe, ID: id, Room: room, Event: event})
	if m := recv(t, ws); m.Type != TypeAck || m.ID != id {
		t.Fatalf("subscribe reply = %+v, want ack %s", m, id)
	}
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getTree(t *testing.T, ts *httptest.Server) *snapshot.Tree {
	t.Helper()
	resp, err := http.Get(ts.URL + "/tree")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var tree snapshot.Tree
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		t.Fatal(err)
	}
	return &tree
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthAndTree(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	tree := getTree(t, ts)
	if tree.Name != "hub" || tree.Find("rooms") == nil || tree.Find("conns") == nil {
		t.Errorf("tree = %+v", tree)
	}
}

func TestSubscribeAndEmit(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "s1", "lobby", "chat")

	resp, out := post(t, ts.URL+"/rooms/lobby/emit/chat", `{"text":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emit status = %d (%v)", resp.StatusCode, out)
	}
	if out["delivered"] != float64(1) || out["direction"] != "emit" {
		t.Errorf("emit response = %v", out)
	}

	m := recv(t, ws)
	if m.Type != TypeEvent || m.ID != "s1" || m.Room != "lobby" || m.Event != "chat" {
		t.Errorf("event = %+v", m)
	}
	if string(m.Payload) != `{"text":"hi"}` {
		t.Errorf("payload = %s", m.Payload)
	}
}

func TestClientToClient(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := dial(t, ts)
	b := dial(t, ts)
	subscribe(t, b, "sub", "game", "move")

	send(t, a, ClientMessage{Op: OpBroadcast, ID: "m1", Room: "game", Event: "move", Payload: json.RawMessage(`[1,2]`)})
	if m := recv(t, a); m.Type != TypeAck || m.ID != "m1" {
		t.Errorf("sender reply = %+v", m)
	}

	m := recv(t, b)
	if m.Type != TypeEvent || m.ID != "sub" || string(m.Payload) != "[1,2]" {
		t.Errorf("receiver got %+v", m)
	}
}

func TestUnsubscribe(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "s1", "lobby", "chat")

	send(t, ws, ClientMessage{Op: OpUnsubscribe, ID: "s1"})
	if m := recv(t, ws); m.Type != TypeAck {
		t.Fatalf("unsubscribe reply = %+v", m)
	}

	// The last subscriber left, so the room is gone.
	resp, _ := post(t, ts.URL+"/rooms/lobby/emit/chat", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("emit after unsubscribe status = %d, want 404", resp.StatusCode)
	}
	tree := getTree(t, ts)
	if tree.Find("lobby") != nil {
		t.Error("empty room still in tree")
	}
	if got := tree.TotalCallbacks(); got != 0 {
		t.Errorf("destroy callbacks = %d, want 0", got)
	}
}

func TestEmptyRoomsReleased(t *testing.T) {
	s, ts := newTestServer(t, nil)
	a := dial(t, ts)
	b := dial(t, ts)

	subscribe(t, a, "a", "shared", "e")
	subscribe(t, b, "b", "shared", "e")

	send(t, a, ClientMessage{Op: OpUnsubscribe, ID: "a"})
	recv(t, a)
	if getTree(t, ts).Find("shared") == nil {
		t.Fatal("room released while b still subscribed")
	}

	send(t, b, ClientMessage{Op: OpUnsubscribe, ID: "b"})
	recv(t, b)
	if getTree(t, ts).Find("shared") != nil {
		t.Error("room kept after its last subscriber left")
	}

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("s%d", i)
		subscribe(t, a, id, fmt.Sprintf("room%d", i), "e")
		send(t, a, ClientMessage{Op: OpUnsubscribe, ID: id})
		recv(t, a)
	}
	subscribe(t, b, "held", "kept", "e")
	b.Close()
	waitFor(t, "room release on close", func() bool {
		var n int
		s.Hub().Do(context.Background(), func() { n = len(s.Hub().roomNames()) })
		return n == 0
	})

	tree := getTree(t, ts)
	if got := len(tree.Find("rooms").Children); got != 0 {
		t.Errorf("rooms retained = %d, want 0", got)
	}
}

func TestConnCloseReleasesBindings(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "a", "lobby", "chat")
	subscribe(t, ws, "b", "lobby", "typing")

	tree := getTree(t, ts)
	if got := tree.Find("lobby").Listeners; got["chat"] != 1 || got["typing"] != 1 {
		t.Fatalf("lobby listeners = %v", got)
	}
	if got := tree.TotalCallbacks(); got != 4 {
		t.Fatalf("destroy callbacks = %d, want 4 (two per binding)", got)
	}

	ws.Close()

	waitFor(t, "connection teardown", func() bool {
		tree := getTree(t, ts)
		return len(tree.Find("conns").Children) == 0 &&
			tree.Find("lobby") == nil &&
			tree.TotalCallbacks() == 0
	})
}

func TestDeleteRoom(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "s1", "lobby", "chat")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/rooms/lobby", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	m := recv(t, ws)
	if m.Type != TypeError || m.Code != "E205" || m.ID != "s1" {
		t.Errorf("room closed message = %+v", m)
	}

	tree := getTree(t, ts)
	if tree.Find("lobby") != nil {
		t.Error("lobby still in tree")
	}
	if got := tree.TotalCallbacks(); got != 0 {
		t.Errorf("destroy callbacks = %d, want 0 after source-first destroy", got)
	}

	// The subscription id is free again.
	subscribe(t, ws, "s1", "lobby", "chat")
}

func TestProtocolErrors(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "dup", "lobby", "chat")

	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"malformed", `{"op":`, "E200"},
		{"unknown op", `{"op":"publish","id":"x"}`, "E201"},
		{"missing op", `{"id":"x"}`, "E202"},
		{"missing room", `{"op":"subscribe","id":"x","event":"e"}`, "E202"},
		{"unknown subscription", `{"op":"unsubscribe","id":"nope"}`, "E203"},
		{"duplicate id", `{"op":"subscribe","id":"dup","room":"lobby","event":"chat"}`, "E204"},
		{"missing room on emit", `{"op":"emit","room":"ghost","event":"e","id":"x"}`, "E205"},
		{"invalid room", `{"op":"subscribe","id":"y","room":"a b","event":"e"}`, "E202"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			m := recv(t, ws)
			if m.Type != TypeError || m.Code != tt.wantCode {
				t.Errorf("reply = %+v, want error %s", m, tt.wantCode)
			}
		})
	}
}

func TestDispatchErrors(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.MaxMessageSize = 16 })

	resp, _ := post(t, ts.URL+"/rooms/nope/emit/x", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown room status = %d, want 404", resp.StatusCode)
	}

	resp, _ = post(t, ts.URL+"/rooms/r/emit/e", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", resp.StatusCode)
	}

	resp, _ = post(t, ts.URL+"/rooms/r/emit/e", `"`+strings.Repeat("x", 32)+`"`)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("large payload status = %d, want 413", resp.StatusCode)
	}
}

func TestRoomsRoute(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "1", "beta", "e")
	subscribe(t, ws, "2", "alpha", "e")

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct{ Rooms []string }
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Rooms) != 2 || out.Rooms[0] != "alpha" || out.Rooms[1] != "beta" {
		t.Errorf("rooms = %v", out.Rooms)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, ts := newTestServer(t, func(c *Config) { c.Registry = reg })
	ws := dial(t, ts)
	subscribe(t, ws, "s", "lobby", "chat")
	post(t, ts.URL+"/rooms/lobby/emit/chat", "1")
	recv(t, ws)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"scopebind_hub_connections 1",
		"scopebind_hub_rooms 1",
		`scopebind_hub_messages_received_total{op="subscribe"} 1`,
		"scopebind_subscriptions_active 1",
		`scopebind_http_requests_total{code="101",method="GET",route="/ws"} 1`,
		`scopebind_http_requests_total{code="200",method="POST",route="/rooms/{room}/emit/{event}"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestDispatchMetricsEventLabels(t *testing.T) {
	tests := []struct {
		name        string
		eventLabels bool
		wantSeries  int
	}{
		{"default folds event names", false, 1},
		{"labels enabled", true, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			_, ts := newTestServer(t, func(c *Config) {
				c.Registry = reg
				c.MetricsEventLabels = tt.eventLabels
			})
			ws := dial(t, ts)
			subscribe(t, ws, "s", "room0", "keep")

			for i := 0; i < 40; i++ {
				resp, _ := post(t, fmt.Sprintf("%s/rooms/room0/emit/ev%d", ts.URL, i), "")
				if resp.StatusCode != http.StatusOK {
					t.Fatalf("emit status = %d", resp.StatusCode)
				}
			}

			families, err := reg.Gather()
			if err != nil {
				t.Fatal(err)
			}
			got := -1
			for _, f := range families {
				if f.GetName() == "scopebind_dispatches_total" {
					got = len(f.GetMetric())
				}
			}
			if got != tt.wantSeries {
				t.Errorf("dispatches_total series = %d, want %d", got, tt.wantSeries)
			}
		})
	}
}

func TestMetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSnapshotRoute(t *testing.T) {
	dir := t.TempDir()
	_, ts := newTestServer(t, func(c *Config) { c.Sink = snapshot.NewFileSink(dir) })
	ws := dial(t, ts)
	subscribe(t, ws, "s", "lobby", "chat")

	resp, out := post(t, ts.URL+"/snapshots", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d (%v)", resp.StatusCode, out)
	}
	name, _ := out["name"].(string)
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("snapshot file: %v", err)
	}
	var tree snapshot.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatal(err)
	}
	if tree.Find("lobby").Listeners["chat"] != 1 {
		t.Errorf("snapshot lobby = %+v", tree.Find("lobby"))
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts)
	subscribe(t, ws, "s", "lobby", "chat")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.Hub().Root().IsDestroyed() {
		t.Error("hub root should be destroyed")
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestHubDoAfterClose(t *testing.T) {
	s := New(&Config{Logger: quietLogger()})
	s.Hub().Close()

	if err := s.Hub().Do(context.Background(), func() {}); err != ErrHubClosed {
		t.Errorf("Do() = %v, want ErrHubClosed", err)
	}
	if err := s.Hub().Dispatch(func() {}); err != ErrHubClosed {
		t.Errorf("Dispatch() = %v, want ErrHubClosed", err)
	}
}

func TestHubRecoversDispatchPanic(t *testing.T) {
	s := New(&Config{Logger: quietLogger()})
	defer s.Hub().Close()

	s.Hub().Dispatch(func() { panic("boom") })

	ran := false
	if err := s.Hub().Do(context.Background(), func() { ran = true }); err != nil || !ran {
		t.Errorf("loop did not survive panic: err=%v ran=%v", err, ran)
	}
}
