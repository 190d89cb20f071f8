// Package store persists engine records as a flat key-value map with a byte
// quota. Backends report quota overruns to subscribers after a write has
// landed; resolving the overrun is the subscriber's job.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("store: key not found")

// Store is a persisted string-keyed map. Keys returns keys in insertion
// order; overwriting a key keeps its original position.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	// Usage is the fraction of the quota in use. Values above 1 mean the
	// store is over quota. Unlimited stores always report 0.
	Usage(ctx context.Context) (float64, error)
	// OnOverQuota registers fn to be called after any write that leaves the
	// store over quota. The returned func unregisters it.
	OnOverQuota(fn func()) (dispose func())
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Driver is one of "memory", "file" or "sqlite".
	Driver string
	// Path is the backing file for the file and sqlite drivers.
	Path string
	// Quota in bytes of keys plus values. Zero disables the quota.
	Quota int64
}

// Open creates a backend from opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(opts.Quota), nil
	case "file":
		return OpenFile(opts.Path, opts.Quota)
	case "sqlite":
		return OpenSQLite(ctx, opts.Path, opts.Quota)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", opts.Driver)
	}
}

func usage(bytes, quota int64) float64 {
	if quota <= 0 {
		return 0
	}
	return float64(bytes) / float64(quota)
}

// quotaWatchers fans over-quota notifications out to subscribers. Calls
// happen outside any backend lock so subscribers may use the store.
type quotaWatchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (q *quotaWatchers) add(fn func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fns == nil {
		q.fns = make(map[int]func())
	}
	id := q.next
	q.next++
	q.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.fns, id)
			q.mu.Unlock()
		})
	}
}

func (q *quotaWatchers) notify() {
	q.mu.Lock()
	ids := make([]int, 0, len(q.fns))
	for id := range q.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, q.fns[id])
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
