// Package gate remembers, per user and notification class, the local date
// a daily notification was last sent.
package gate

import (
	"context"
	"sync"
)

// Class names a daily notification class.
type Class string

const (
	ClassDigest  Class = "digest"
	ClassOverdue Class = "overdue"
)

type Key struct {
	UserID uint
	Class  Class
}

// Store is the key-value capability backing the gate.
type Store interface {
	// Get returns the date key stored for key, ok is false when absent.
	Get(ctx context.Context, key Key) (dateKey string, ok bool, err error)
	Set(ctx context.Context, key Key, dateKey string) error
}

// Gate answers whether a class already fired for a user on a local date.
// Callers evaluate a given key from one goroutine at a time; different keys
// may be used concurrently.
type Gate struct {
	store Store
}

func New(store Store) *Gate {
	return &Gate{store: store}
}

// Fired reports whether key was marked for dateKey.
func (g *Gate) Fired(ctx context.Context, key Key, dateKey string) (bool, error) {
	last, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && last == dateKey, nil
}

// Mark records that key fired on dateKey.
func (g *Gate) Mark(ctx context.Context, key Key, dateKey string) error {
	return g.store.Set(ctx, key, dateKey)
}

// Memory is an in-process Store. Markers are lost on restart, which at worst
// repeats one digest on the day of the restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]string)}
}

func (m *Memory) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key Key, dateKey string) error {
	m.mu.Lock()
	m.entries[key] = dateKey
	m.mu.Unlock()
	return nil
}
