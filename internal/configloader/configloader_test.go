package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Value string
}

type otherConfig struct{}

func TestRegistry_RoundTrip(t *testing.T) {
	cfg := &testConfig{Value: "a"}
	SetConfig(cfg)

	got := MustGetConfig[*testConfig]()
	if got.Value != "a" {
		t.Errorf("MustGetConfig() = %+v", got)
	}

	SetConfig(&testConfig{Value: "b"})
	if got, ok := TryGetConfig[*testConfig](); !ok || got.Value != "b" {
		t.Errorf("TryGetConfig() = %+v, %v", got, ok)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	type dupConfig struct{}
	RegisterConfig(&dupConfig{})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterConfig(&dupConfig{})
}

func TestTryGetConfig_Missing(t *testing.T) {
	if _, ok := TryGetConfig[*otherConfig](); ok {
		t.Error("expected missing config")
	}
}

func TestResolveConfigPath_Env(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geistbind.yaml")
	t.Setenv(EnvConfig, path)

	got, err := ResolveConfigPath("geistbind", "geistbind.yaml")
	if err != nil {
		t.Fatalf("ResolveConfigPath() error = %v", err)
	}
	if got != path {
		t.Errorf("ResolveConfigPath() = %q, want %q", got, path)
	}
}

func TestResolveConfigPath_UserDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvConfig, "")
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".geistbind", "bindctl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "bindctl-test.yaml")
	if err := os.WriteFile(want, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath("bindctl", "bindctl-test.yaml")
	if err != nil {
		t.Fatalf("ResolveConfigPath() error = %v", err)
	}
	if got != want {
		t.Errorf("ResolveConfigPath() = %q, want %q", got, want)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv("HOME", t.TempDir())

	_, err := ResolveConfigPath("geistbind", "does-not-exist-7c1e.yaml")
	if !errors.Is(err, ErrNoConfig) {
		t.Errorf("ResolveConfigPath() error = %v, want ErrNoConfig", err)
	}
}
