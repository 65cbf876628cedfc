package dispatch

import "testing"

func TestListeners_DeliverOnce(t *testing.T) {
	l := NewListeners()
	var got []string
	l.Register("t1", func(raw []byte) { got = append(got, string(raw)) })

	if !l.Deliver("t1", []byte("a")) {
		t.Fatal("Deliver() = false for a registered token")
	}
	if l.Deliver("t1", []byte("b")) {
		t.Error("listener must be removed after delivery")
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %v", got)
	}
}

func TestListeners_FirstMatchWins(t *testing.T) {
	l := NewListeners()
	var order []int
	l.Register("t", func([]byte) { order = append(order, 1) })
	l.Register("t", func([]byte) { order = append(order, 2) })

	l.Deliver("t", nil)
	l.Deliver("t", nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v", order)
	}
}

func TestListeners_CallbackMayRegister(t *testing.T) {
	l := NewListeners()
	l.Register("t", func([]byte) {
		l.Register("next", func([]byte) {})
	})

	l.Deliver("t", nil)
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestListeners_Remove(t *testing.T) {
	l := NewListeners()
	l.Register("t", func([]byte) { t.Error("removed listener invoked") })

	if !l.Remove("t") {
		t.Fatal("Remove() = false")
	}
	if l.Deliver("t", nil) {
		t.Error("Deliver() found a removed listener")
	}
}
