package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newSealer(t *testing.T, dir string) *Sealer {
	t.Helper()
	key, err := LoadOrCreateKey(context.Background(), filepath.Join(dir, "session.key"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	return s
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, ok, err := m.Load(ctx); ok || err != nil {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}
	if err := m.Save(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get(DefaultKey); !ok || v != "abc123" {
		t.Fatalf("get: %q %v", v, ok)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Load(ctx); ok {
		t.Fatal("expected cleared")
	}
}

func TestFileStoreSealedRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	f := NewFile(path, WithSealer(newSealer(t, dir)))

	if _, ok, err := f.Load(ctx); ok || err != nil {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}
	if err := f.Save(ctx, "abc123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "abc123") {
		t.Fatalf("token stored in clear: %s", raw)
	}

	// a second store over the same directory reuses the key file
	g := NewFile(path, WithSealer(newSealer(t, dir)))
	got, ok, err := g.Load(ctx)
	if err != nil || !ok || got != "abc123" {
		t.Fatalf("load: %q ok=%v err=%v", got, ok, err)
	}

	if err := g.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, err := f.Load(ctx); ok || err != nil {
		t.Fatalf("after clear: ok=%v err=%v", ok, err)
	}
	if err := g.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestFileStoreForeignKeyIsCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := NewFile(path, WithSealer(newSealer(t, t.TempDir()))).Save(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	other := NewFile(path, WithSealer(newSealer(t, t.TempDir())))
	if _, ok, err := other.Load(ctx); ok || !errors.Is(err, ErrCorrupt) {
		t.Fatalf("want ErrCorrupt, got ok=%v err=%v", ok, err)
	}
	plain := NewFile(path)
	if _, _, err := plain.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("sealed record without sealer: %v", err)
	}
}

func TestFileStorePlaintextAndGarbage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	f := NewFile(path)
	if err := f.Save(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	if got, ok, err := f.Load(ctx); err != nil || !ok || got != "tok" {
		t.Fatalf("plain load: %q %v %v", got, ok, err)
	}
	if _, _, err := NewFile(path, WithKey("other")).Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("key mismatch: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage: %v", err)
	}
}

func TestLoadOrCreateKeyIsStable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.key")
	a, err := LoadOrCreateKey(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadOrCreateKey(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) || len(a) != masterKeySize {
		t.Fatalf("key changed or wrong size: %d", len(a))
	}
	if err := os.WriteFile(path, []byte("abcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(ctx, path); err == nil {
		t.Fatal("expected short key error")
	}
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatal("expected sealer error")
	}
}
