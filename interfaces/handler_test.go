package interfaces

import (
	"context"
	"testing"

	"github.com/mfulz/geistbind/protocol"
)

type nopHandler struct{}

func (nopHandler) Init(context.Context, *Call) (string, error) { return "", nil }
func (nopHandler) Teardown(context.Context, *Call) error       { return nil }

func TestRegisterHandler(t *testing.T) {
	RegisterHandler(Registration{
		Type:    "test_nop",
		Factory: func(Env) (Handler, error) { return nopHandler{}, nil },
	})

	reg, err := GetHandler("test_nop")
	if err != nil {
		t.Fatalf("GetHandler() error = %v", err)
	}
	h, err := reg.Factory(Env{Name: "dev"})
	if err != nil || h == nil {
		t.Fatalf("Factory() = %v, %v", h, err)
	}

	found := false
	for _, typ := range HandlerTypes() {
		if typ == "test_nop" {
			found = true
		}
	}
	if !found {
		t.Error("HandlerTypes() misses registered type")
	}
}

func TestRegisterHandler_DuplicatePanics(t *testing.T) {
	reg := Registration{Type: "test_dup", Factory: func(Env) (Handler, error) { return nopHandler{}, nil }}
	RegisterHandler(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate type")
		}
	}()
	RegisterHandler(reg)
}

func TestGetHandler_Unknown(t *testing.T) {
	if _, err := GetHandler("does_not_exist"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestCall_Name(t *testing.T) {
	c := &Call{Hash: protocol.Hash{protocol.FieldName: "dev1"}}
	if c.Name() != "dev1" {
		t.Errorf("Name() = %q", c.Name())
	}
}
