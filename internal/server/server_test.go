package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfulz/geistbind/dispatch"
	"github.com/mfulz/geistbind/internal/acl"
	"github.com/mfulz/geistbind/protocol"
)

type frameSink struct {
	frames chan string
}

func (f *frameSink) OnMessage(_ context.Context, raw []byte) {
	f.frames <- string(raw)
}

type harness struct {
	srv    *Server
	http   *httptest.Server
	sink   *frameSink
	out    *dispatch.Outbound
	fatals chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:   &frameSink{frames: make(chan string, 16)},
		out:    &dispatch.Outbound{},
		fatals: make(chan error, 1),
	}
	h.srv = New(Options{
		Handler:  h.sink,
		Outbound: h.out,
		Timeouts: dispatch.NewTimeoutPolicy(time.Minute, time.Second, time.Hour),
		Stats: func() dispatch.Stats {
			return dispatch.Stats{Instances: []string{"dev1"}, Loading: []string{"dev2"}, PendingListeners: 3, Workers: 16}
		},
		Fatal: func(err error) { h.fatals <- err },
	})
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		h.http.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/"
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_RoutesFramesBothWays(t *testing.T) {
	h := newHarness(t)
	ws, _, err := h.dial(t)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"id":1}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-h.sink.frames:
		if got != `{"id":1}` {
			t.Errorf("frame = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not dispatched")
	}

	waitFor(t, h.out.Connected)
	if err := h.out.Send(protocol.Hash{"id": 1, "finished": 1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil || got["finished"] != float64(1) {
		t.Errorf("received %s", data)
	}
}

func TestServer_SecondConnectionRejected(t *testing.T) {
	h := newHarness(t)
	ws, _, err := h.dial(t)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	waitFor(t, h.srv.Connected)

	_, resp, err := h.dial(t)
	if err == nil {
		t.Fatal("second connection accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("response = %v, want 409", resp)
	}
}

func TestServer_NormalCloseFreesSlot(t *testing.T) {
	h := newHarness(t)
	ws, _, err := h.dial(t)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, h.srv.Connected)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	ws.Close()

	waitFor(t, func() bool { return !h.srv.Connected() })
	if h.out.Connected() {
		t.Error("outbound still registered after close")
	}
	select {
	case err := <-h.fatals:
		t.Fatalf("normal close treated as fatal: %v", err)
	default:
	}

	ws2, _, err := h.dial(t)
	if err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	ws2.Close()
}

func TestServer_AbnormalCloseIsFatal(t *testing.T) {
	h := newHarness(t)
	ws, _, err := h.dial(t)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, h.srv.Connected)

	// drop the TCP connection without a close frame
	ws.UnderlyingConn().Close()

	select {
	case <-h.fatals:
	case <-time.After(2 * time.Second):
		t.Fatal("fatal hook not invoked")
	}
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status           string   `json:"status"`
		Connected        bool     `json:"connected"`
		Instances        []string `json:"instances"`
		Loading          []string `json:"loading"`
		PendingListeners int      `json:"pending_listeners"`
		Workers          int      `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Connected || len(body.Instances) != 1 {
		t.Errorf("health = %+v", body)
	}
	if len(body.Loading) != 1 || body.PendingListeners != 3 || body.Workers != 16 {
		t.Errorf("dispatcher stats = %+v", body)
	}
}

func TestServer_AccessDenied(t *testing.T) {
	h := newHarness(t)
	engine, err := acl.New(acl.Config{
		Enabled: true,
		Rules:   []acl.Rule{{Subjects: []string{"10.0.0.0/8"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.srv.opts.Access = engine

	_, resp, err := h.dial(t)
	if err == nil {
		t.Fatal("connection from a disallowed address accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if h.srv.Connected() {
		t.Error("rejected connection occupies the slot")
	}
}
