package acl

import "testing"

func TestEngine_Allowed(t *testing.T) {
	e, err := New(Config{
		Enabled: true,
		Networks: map[string]Network{
			"lan": {Prefixes: []string{"192.168.1.0/24", "fd00::/8"}},
		},
		Rules: []Rule{
			{Description: "lan", Subjects: []string{"lan", "127.0.0.1"}},
			{Description: "guest", Subjects: []string{"192.168.1.200"}, Deny: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"192.168.1.10:5000", true},
		{"127.0.0.1:40000", true},
		{"[fd00::1]:15733", true},
		{"192.168.1.200:5000", false},
		{"10.0.0.1:5000", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := e.Allowed(tt.addr); got != tt.want {
			t.Errorf("Allowed(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestEngine_DisabledAllowsAll(t *testing.T) {
	e, err := New(Config{Rules: []Rule{{Subjects: []string{"10.0.0.1"}, Deny: true}}})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Allowed("10.0.0.1:1") {
		t.Error("disabled engine must allow")
	}

	var nilEngine *Engine
	if !nilEngine.Allowed("10.0.0.1:1") {
		t.Error("nil engine must allow")
	}
}

func TestNew_InvalidSubject(t *testing.T) {
	if _, err := New(Config{Rules: []Rule{{Subjects: []string{"nowhere"}}}}); err == nil {
		t.Error("unknown subject accepted")
	}
	if _, err := New(Config{Networks: map[string]Network{"x": {Prefixes: []string{"1.2.3.4/99"}}}}); err == nil {
		t.Error("invalid prefix accepted")
	}
}
