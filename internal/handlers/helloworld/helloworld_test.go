package helloworld

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/protocol"
)

type readingsHost struct {
	interfaces.Host
	mu       sync.Mutex
	readings map[string]string
}

func (h *readingsHost) ReadingsSingleUpdate(_ context.Context, _, reading, value string, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings[reading] = value
	return nil
}

func (h *readingsHost) ReadingsBulkUpdate(_ context.Context, _ string, rs []interfaces.Reading, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range rs {
		h.readings[r.Name] = r.Value
	}
	return nil
}

func newDevice(t *testing.T) (interfaces.CommandHandler, *readingsHost) {
	t.Helper()
	host := &readingsHost{readings: map[string]string{}}
	h, err := New(interfaces.Env{Name: "dev1", Type: Type, Host: host})
	if err != nil {
		t.Fatal(err)
	}
	return h.(interfaces.CommandHandler), host
}

func set(args ...string) *interfaces.Call {
	return &interfaces.Call{
		Hash:     protocol.Hash{protocol.FieldName: "dev1"},
		Function: "Set",
		Args:     append([]string{"dev1"}, args...),
	}
}

func TestRegistered(t *testing.T) {
	if _, err := interfaces.GetHandler(Type); err != nil {
		t.Fatal(err)
	}
}

func TestInit(t *testing.T) {
	d, host := newDevice(t)
	if _, err := d.Init(context.Background(), &interfaces.Call{}); err != nil {
		t.Fatal(err)
	}
	if host.readings["state"] != "on" {
		t.Errorf("state = %q, want on", host.readings["state"])
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		args    []string
		reading string
		want    string
	}{
		{[]string{"on"}, "state", "on"},
		{[]string{"on", "30"}, "state", "on 30"},
		{[]string{"off"}, "state", "off"},
		{[]string{"mode"}, "mode", "eco"},
		{[]string{"mode", "comfort"}, "mode", "comfort"},
		{[]string{"desiredTemp", "21"}, "desiredTemp", "21"},
		{[]string{"holidayMode", "Friday"}, "start", "Friday"},
		{[]string{"holidayMode"}, "end", "23:59"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			d, host := newDevice(t)
			res, ok, err := d.HandleCommand(context.Background(), "Set", set(tt.args...))
			if err != nil || !ok || res != "" {
				t.Fatalf("HandleCommand() = %q, %v, %v", res, ok, err)
			}
			if got := host.readings[tt.reading]; got != tt.want {
				t.Errorf("%s = %q, want %q", tt.reading, got, tt.want)
			}
		})
	}
}

func TestSet_Usage(t *testing.T) {
	d, _ := newDevice(t)
	res, _, _ := d.HandleCommand(context.Background(), "Set", set("?"))
	if !strings.HasPrefix(res, "Unknown argument ?, choose one of mode:eco,comfort") || !strings.HasSuffix(res, "off:noArg") {
		t.Errorf("usage = %q", res)
	}
}

func TestUnknownCommand(t *testing.T) {
	d, _ := newDevice(t)
	if _, ok, _ := d.HandleCommand(context.Background(), "Get", set()); ok {
		t.Error("Get must not be handled")
	}
}
