// Package tokenstore keeps the console's bearer token between runs. It is the
// Go stand-in for the browser's local storage: one key, one opaque string.
package tokenstore

import (
	"context"
	"errors"
	"sync"
)

// DefaultKey is the key the token lives under.
const DefaultKey = "token"

// ErrCorrupt reports a persisted record that exists but cannot be turned back
// into a token (bad JSON, wrong key, failed unseal). Callers treat it as "no
// session" and clear it.
var ErrCorrupt = errors.New("tokenstore: persisted session is unreadable")

// Store is the persisted-token contract. Load reports ok=false when nothing is
// stored. Clear on an empty store is a no-op.
type Store interface {
	Load(ctx context.Context) (token string, ok bool, err error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Memory is a process-local Store. It is what tests and embedders without a
// writable state directory use.
type Memory struct {
	mu   sync.Mutex
	key  string
	data map[string]string
}

// NewMemory returns an empty Memory store using DefaultKey.
func NewMemory() *Memory {
	return &Memory{key: DefaultKey, data: map[string]string{}}
}

// NewMemoryWith returns a Memory store pre-seeded with token.
func NewMemoryWith(token string) *Memory {
	m := NewMemory()
	m.data[m.key] = token
	return m
}

func (m *Memory) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[m.key]
	return v, ok, nil
}

func (m *Memory) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[m.key] = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	delete(m.data, m.key)
	m.mu.Unlock()
	return nil
}

// Get reads an arbitrary key; used to assert what was persisted.
func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}
