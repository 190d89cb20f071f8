package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File keeps the whole map in memory and rewrites a single JSON document on
// every mutation. The document is replaced atomically via tmp+rename so a
// crash leaves either the old or the new map on disk.
type File struct {
	path string
	mem  *Memory
}

type fileEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type fileDoc struct {
	Entries []fileEntry `json:"entries"`
}

// OpenFile loads path if it exists. Missing files start empty.
func OpenFile(path string, quota int64) (*File, error) {
	if path == "" {
		return nil, errors.New("file store path not configured")
	}
	f := &File{path: path, mem: NewMemory(quota)}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", path, err)
	}
	for _, e := range doc.Entries {
		f.mem.putLocked(e.Key, []byte(e.Value))
	}
	return f, nil
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) { return f.mem.Get(ctx, key) }

func (f *File) Put(_ context.Context, key string, value []byte) error {
	m := f.mem
	m.mu.Lock()
	old, existed := m.values[key]
	over := m.putLocked(key, value)
	if err := f.flushLocked(); err != nil {
		if existed {
			m.putLocked(key, old)
		} else {
			m.deleteLocked(key)
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	if over {
		m.watchers.notify()
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	m := f.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.values[key]
	if !existed {
		return nil
	}
	pos := 0
	for i, k := range m.order {
		if k == key {
			pos = i
			break
		}
	}
	m.deleteLocked(key)
	if err := f.flushLocked(); err != nil {
		m.putLocked(key, old)
		// putLocked appended; move the key back to where it was
		last := len(m.order) - 1
		copy(m.order[pos+1:], m.order[pos:last])
		m.order[pos] = key
		return err
	}
	return nil
}

func (f *File) Keys(ctx context.Context) ([]string, error) { return f.mem.Keys(ctx) }

func (f *File) Usage(ctx context.Context) (float64, error) { return f.mem.Usage(ctx) }

func (f *File) OnOverQuota(fn func()) func() { return f.mem.OnOverQuota(fn) }

func (f *File) Close() error { return nil }

func (f *File) flushLocked() error {
	doc := fileDoc{Entries: make([]fileEntry, 0, len(f.mem.order))}
	for _, k := range f.mem.order {
		doc.Entries = append(doc.Entries, fileEntry{Key: k, Value: string(f.mem.values[k])})
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp := f.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		out.Close()
		return fmt.Errorf("encode store: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
