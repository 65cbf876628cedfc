package controlcli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfulz/geistbind/protocol"
)

func TestParseCTLConfig(t *testing.T) {
	cfg, err := ParseCTLConfig([]byte(`
default: lab
daemons:
  lab:
    url: ws://lab:15733/
  home:
    url: ws://home:15733/
log:
  level: debug
  to_stdout: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logger.Level != "debug" || !cfg.Logger.ToStdout {
		t.Errorf("logger = %+v", cfg.Logger)
	}

	tests := []struct {
		name, daemon, override, want string
		wantErr                      bool
	}{
		{name: "default", want: "ws://lab:15733/"},
		{name: "named", daemon: "home", want: "ws://home:15733/"},
		{name: "override", daemon: "home", override: "ws://x/", want: "ws://x/"},
		{name: "unknown", daemon: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.Resolve(tt.daemon, tt.override)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_Empty(t *testing.T) {
	got, err := (&CTLConfig{}).Resolve("", "")
	if err != nil || got != DefaultURL {
		t.Errorf("Resolve() = %q, %v", got, err)
	}
}

// fakeDaemon asks for one attribute, pushes an update and replies.
func fakeDaemon(t *testing.T) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req, _ := protocol.Decode(raw)

		_ = ws.WriteJSON(protocol.Command("tok", req.String(protocol.FieldName), "AttrVal('dev1','verbose','3')"))
		_, raw, err = ws.ReadMessage()
		if err != nil {
			return
		}
		answer, _ := protocol.Decode(raw)
		if answer.String(protocol.FieldAwaitID) != "tok" {
			t.Errorf("answer = %v", answer)
		}

		parsed, _ := protocol.ParseRequest(req)
		_ = ws.WriteJSON(protocol.Reply(parsed, ""))
		_ = ws.WriteJSON(protocol.Update(req))
		_, _, _ = ws.ReadMessage()
	}))
}

func TestClient_Call(t *testing.T) {
	srv := fakeDaemon(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Linger = 100 * time.Millisecond
	c.Answer = func(cmd string) string { return "3" }

	res, err := c.Call(ctx, CallRequest{Name: "dev1", Type: "helloworld", Function: "Set", Args: []string{"dev1", "on"}})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if res.Reply == nil || res.Reply.String(protocol.FieldID) != "1" {
		t.Errorf("reply = %v", res.Reply)
	}
	if len(res.Commands) != 1 || !strings.HasPrefix(res.Commands[0], "AttrVal") {
		t.Errorf("commands = %v", res.Commands)
	}
	if len(res.Updates) != 1 {
		t.Errorf("updates = %v", res.Updates)
	}
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","connected":true,"instances":["a"],"loading":["b"],"pending_listeners":2,"workers":16}`))
	}))
	defer srv.Close()

	h, err := FetchHealth(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/")
	if err != nil {
		t.Fatal(err)
	}
	if !h.Connected || len(h.Instances) != 1 {
		t.Errorf("health = %+v", h)
	}
	if len(h.Loading) != 1 || h.PendingListeners != 2 || h.Workers != 16 {
		t.Errorf("health stats = %+v", h)
	}
}
