package store

import (
	"context"
	"sync"
)

// Memory is an in-process store. It is also the working set of the file
// backend.
type Memory struct {
	mu     sync.Mutex
	quota  int64
	bytes  int64
	values map[string][]byte
	order  []string

	watchers quotaWatchers
}

// NewMemory returns an empty store limited to quota bytes (0 = unlimited).
func NewMemory(quota int64) *Memory {
	return &Memory{quota: quota, values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	over := m.putLocked(key, value)
	m.mu.Unlock()
	if over {
		m.watchers.notify()
	}
	return nil
}

func (m *Memory) putLocked(key string, value []byte) bool {
	if old, ok := m.values[key]; ok {
		m.bytes -= int64(len(key) + len(old))
	} else {
		m.order = append(m.order, key)
	}
	m.values[key] = append([]byte(nil), value...)
	m.bytes += int64(len(key) + len(value))
	return usage(m.bytes, m.quota) > 1
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *Memory) deleteLocked(key string) {
	old, ok := m.values[key]
	if !ok {
		return
	}
	m.bytes -= int64(len(key) + len(old))
	delete(m.values, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Usage(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return usage(m.bytes, m.quota), nil
}

func (m *Memory) OnOverQuota(fn func()) func() { return m.watchers.add(fn) }

func (m *Memory) Close() error { return nil }
