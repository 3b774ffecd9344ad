package registry

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// Memory is an in-process Store. FailGet and FailSet, when non-nil, make
// the matching operation fail with that cause.
type Memory struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	FailGet error
	FailSet error

	gets int
	sets int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, keys ...string) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.FailGet != nil {
		return nil, &StorageError{Op: "get", Err: m.FailGet}
	}
	out := make(Values, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = slices.Clone(v)
		}
	}
	return out, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, v Values) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.FailSet != nil {
		return &StorageError{Op: "set", Err: m.FailSet}
	}
	for k, raw := range v {
		m.data[k] = slices.Clone(raw)
	}
	return nil
}

// Update implements Updater under the store's lock.
func (m *Memory) Update(_ context.Context, key string, fn func(old json.RawMessage) (json.RawMessage, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.FailGet != nil {
		return &StorageError{Op: "get", Err: m.FailGet}
	}
	raw, err := fn(slices.Clone(m.data[key]))
	if err != nil {
		return err
	}
	m.sets++
	if m.FailSet != nil {
		return &StorageError{Op: "set", Err: m.FailSet}
	}
	m.data[key] = slices.Clone(raw)
	return nil
}

// SetFailures swaps the injected failures under the store's lock.
func (m *Memory) SetFailures(get, set error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet, m.FailSet = get, set
}

// Calls returns how many Get and Set calls the store has served.
func (m *Memory) Calls() (gets, sets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.sets
}
