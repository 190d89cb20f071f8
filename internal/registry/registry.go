// Package registry owns the tag index and the persisted host-to-engine map,
// and keeps them in step with the host search service.
//
// Every mutation updates the index and the store as one unit: the new index
// is built aside, the store write goes first, and the index is committed only
// when the write succeeded.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/geo"
	"github.com/hyperifyio/searchspot/internal/hostsearch"
	"github.com/hyperifyio/searchspot/internal/store"
)

var (
	// ErrNotFound is returned when an engine cannot be resolved.
	ErrNotFound = errors.New("registry: engine not found")
	// ErrQuotaUnresolvable is returned when the store stays over quota with
	// nothing left to evict.
	ErrQuotaUnresolvable = errors.New("registry: storage over quota with nothing left to evict")
	// ErrEmptyTag is returned for blank tag names.
	ErrEmptyTag = errors.New("registry: empty tag")
)

// Source is the host-side view the registry mirrors. *hostsearch.Mirror
// implements it.
type Source interface {
	Visible() iter.Seq[hostsearch.SystemEngine]
	Subscribe(fn func(hostsearch.Event)) (dispose func())
	AddByURL(ctx context.Context, url string) error
}

// ChangeKind tells subscribers what happened to an engine.
type ChangeKind int

const (
	// Added covers both new engines and replaced ones.
	Added ChangeKind = iota + 1
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is delivered to subscribers after the mutation committed.
type Change struct {
	Kind   ChangeKind
	Engine engine.Record
}

// Registry is safe for concurrent use. Subscribers are called without the
// registry lock held.
type Registry struct {
	store   store.Store
	source  Source
	locator *geo.Locator
	ctx     context.Context

	mu      sync.Mutex
	records map[string]engine.Record
	buckets map[string][]string
	seq     map[string]uint64
	nextSeq uint64
	pending []Change
	err     error

	overQuota atomic.Bool

	subs     map[int]func(Change)
	nextSub  int
	disposed bool
	disposes []func()
}

// New builds a registry over st. An empty store is seeded with every visible
// host engine tagged :default; otherwise the index is rebuilt from the
// persisted records in insertion order. ctx is used for store access made on
// behalf of host notifications.
func New(ctx context.Context, st store.Store, src Source, loc *geo.Locator) (*Registry, error) {
	if st == nil || src == nil {
		return nil, errors.New("registry: store and source are required")
	}
	r := &Registry{
		store:   st,
		source:  src,
		locator: loc,
		ctx:     context.WithoutCancel(ctx),
		records: map[string]engine.Record{},
		buckets: map[string][]string{},
		seq:     map[string]uint64{},
		subs:    map[int]func(Change){},
	}
	r.disposes = append(r.disposes, st.OnOverQuota(r.onOverQuota))

	keys, err := st.Keys(ctx)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("list store: %w", err)
	}
	r.mu.Lock()
	if len(keys) == 0 {
		err = r.seedLocked(ctx)
	} else {
		err = r.rebuildLocked(ctx, keys)
		if err == nil {
			err = r.syncHostLocked(ctx)
		}
	}
	if err == nil {
		err = r.settleLocked(ctx)
	}
	r.pending = nil
	r.unlock()
	if err != nil {
		r.Close()
		return nil, err
	}
	r.disposes = append(r.disposes, src.Subscribe(r.onEvent))
	return r, nil
}

func (r *Registry) seedLocked(ctx context.Context) error {
	n := 0
	for se := range r.source.Visible() {
		rec, err := se.Record(engine.TagDefault)
		if err != nil {
			log.Warn().Err(err).Str("engine", se.Name).Msg("skipping host engine")
			continue
		}
		if err := r.addLocked(ctx, rec); err != nil {
			return fmt.Errorf("seed %s: %w", rec.Host, err)
		}
		n++
	}
	log.Debug().Int("engines", n).Msg("seeded registry from host")
	return nil
}

func (r *Registry) rebuildLocked(ctx context.Context, keys []string) error {
	for _, k := range keys {
		b, err := r.store.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("load %s: %w", k, err)
		}
		rec, err := engine.Unmarshal(b)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("skipping unreadable engine record")
			continue
		}
		rec.Tags = uniqueTags(rec.Tags)
		r.records[rec.Host] = rec
		r.seq[rec.Host] = r.nextSeq
		r.nextSeq++
		for _, t := range rec.Tags {
			r.buckets[t] = append(r.buckets[t], rec.Host)
		}
	}
	log.Debug().Int("engines", len(r.records)).Int("tags", len(r.buckets)).Msg("rebuilt registry index")
	return nil
}

// syncHostLocked brings a rebuilt index in line with the host's visible
// engines. Hosts the registry has not seen are added tagged :found, known
// ones are refreshed keeping their tags, and engines that came from the host
// (tagged :default or :found) but are no longer visible are removed.
func (r *Registry) syncHostLocked(ctx context.Context) error {
	visible := map[string]bool{}
	added, refreshed, removed := 0, 0, 0
	for se := range r.source.Visible() {
		rec, err := se.Record(engine.TagFound)
		if err != nil {
			log.Warn().Err(err).Str("engine", se.Name).Msg("skipping host engine")
			continue
		}
		visible[rec.Host] = true
		prev, ok := r.records[rec.Host]
		if ok {
			if sameEngine(prev, rec) {
				continue
			}
			rec.Tags = prev.Clone().Tags
			refreshed++
		} else {
			added++
		}
		if err := r.addLocked(ctx, rec); err != nil {
			return fmt.Errorf("sync %s: %w", rec.Host, err)
		}
	}
	for _, h := range r.orderedLocked() {
		rec := r.records[h]
		if visible[h] || !(rec.HasTag(engine.TagDefault) || rec.HasTag(engine.TagFound)) {
			continue
		}
		if err := r.removeLocked(ctx, h); err != nil {
			return fmt.Errorf("sync %s: %w", h, err)
		}
		removed++
	}
	log.Debug().Int("added", added).Int("refreshed", refreshed).Int("removed", removed).Msg("synced registry with host")
	return nil
}

// sameEngine compares everything but tags.
func sameEngine(a, b engine.Record) bool {
	return a.Host == b.Host && a.Name == b.Name && a.Site == b.Site &&
		a.QueryURL == b.QueryURL && a.SuggestionURL == b.SuggestionURL && a.Icon == b.Icon
}

// unlock releases r.mu. A drain requested while the lock was held runs
// first, and pending changes are delivered after release.
func (r *Registry) unlock() {
	for {
		if r.overQuota.Swap(false) {
			_ = r.drainLocked(r.ctx)
		}
		changes := r.pending
		r.pending = nil
		r.mu.Unlock()
		r.deliver(changes)
		if !r.overQuota.Load() || !r.mu.TryLock() {
			return
		}
	}
}

func (r *Registry) deliver(changes []Change) {
	if len(changes) == 0 {
		return
	}
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.subs))
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.mu.Unlock()
	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// Add upserts rec into the bucket of each of its tags and overwrites the
// persisted entry at rec.Host. A replaced record is pruned from the buckets
// of tags it no longer carries.
func (r *Registry) Add(ctx context.Context, rec engine.Record) error {
	r.mu.Lock()
	err := r.addLocked(ctx, rec)
	if err == nil {
		err = r.settleLocked(ctx)
	}
	r.unlock()
	return err
}

func (r *Registry) addLocked(ctx context.Context, rec engine.Record) error {
	if rec.Host == "" {
		return engine.ErrNoHost
	}
	rec = rec.Clone()
	rec.Tags = uniqueTags(rec.Tags)
	for _, t := range rec.Tags {
		if strings.TrimSpace(t) == "" {
			return ErrEmptyTag
		}
	}

	buckets := maps.Clone(r.buckets)
	for _, t := range rec.Tags {
		if !slices.Contains(buckets[t], rec.Host) {
			buckets[t] = append(slices.Clone(buckets[t]), rec.Host)
		}
	}
	if prev, ok := r.records[rec.Host]; ok {
		for _, t := range prev.Tags {
			if !rec.HasTag(t) {
				pruneHost(buckets, t, rec.Host)
			}
		}
	}

	b, err := engine.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, rec.Host, b); err != nil {
		return fmt.Errorf("persist %s: %w", rec.Host, err)
	}
	r.buckets = buckets
	if _, ok := r.records[rec.Host]; !ok {
		r.seq[rec.Host] = r.nextSeq
		r.nextSeq++
	}
	r.records[rec.Host] = rec
	r.pending = append(r.pending, Change{Kind: Added, Engine: rec.Clone()})
	return nil
}

// Remove deletes the engine at host from the store and from every bucket.
func (r *Registry) Remove(ctx context.Context, host string) error {
	r.mu.Lock()
	err := r.removeLocked(ctx, r.resolveHostLocked(host))
	r.unlock()
	return err
}

func (r *Registry) removeLocked(ctx context.Context, host string) error {
	rec, ok := r.records[host]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	if err := r.store.Delete(ctx, host); err != nil {
		return fmt.Errorf("delete %s: %w", host, err)
	}
	buckets := maps.Clone(r.buckets)
	for t := range r.buckets {
		pruneHost(buckets, t, host)
	}
	r.buckets = buckets
	delete(r.records, host)
	delete(r.seq, host)
	r.pending = append(r.pending, Change{Kind: Removed, Engine: rec})
	return nil
}

// AddTagByHost tags the engine at host.
func (r *Registry) AddTagByHost(ctx context.Context, tag, host string) error {
	return r.retag(ctx, tag, host, (*engine.Record).AppendTag)
}

// RemoveTagByHost untags the engine at host. Removing a tag the engine does
// not carry is a no-op.
func (r *Registry) RemoveTagByHost(ctx context.Context, tag, host string) error {
	return r.retag(ctx, tag, host, (*engine.Record).RemoveTag)
}

func (r *Registry) retag(ctx context.Context, tag, host string, op func(*engine.Record, string)) error {
	if strings.TrimSpace(tag) == "" {
		return ErrEmptyTag
	}
	r.mu.Lock()
	host = r.resolveHostLocked(host)
	rec, ok := r.records[host]
	if !ok {
		r.unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	next := rec.Clone()
	op(&next, tag)
	if slices.Equal(next.Tags, rec.Tags) {
		r.unlock()
		return nil
	}
	err := r.addLocked(ctx, next)
	if err == nil {
		err = r.settleLocked(ctx)
	}
	r.unlock()
	return err
}

// ByTag returns the engines tagged tag in bucket order; "" means :default.
// Unknown tags yield nil.
func (r *Registry) ByTag(tag string) []engine.Record {
	if tag == "" {
		tag = engine.TagDefault
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hosts := r.buckets[tag]
	if len(hosts) == 0 {
		return nil
	}
	out := make([]engine.Record, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, r.records[h].Clone())
	}
	return out
}

// Tags lists every tag with at least one engine, sorted.
func (r *Registry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.buckets))
}

// All returns every engine in insertion order.
func (r *Registry) All() []engine.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	hosts := r.orderedLocked()
	out := make([]engine.Record, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, r.records[h].Clone())
	}
	return out
}

// Get resolves id as a host, a site URL on that host, or an engine name.
func (r *Registry) Get(id string) (engine.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[r.resolveHostLocked(id)]
	if !ok {
		return engine.Record{}, false
	}
	return rec.Clone(), true
}

// resolveHostLocked maps id to a known host, or returns id unchanged.
func (r *Registry) resolveHostLocked(id string) string {
	if _, ok := r.records[id]; ok {
		return id
	}
	if h, err := engine.CanonicalHost(id); err == nil {
		if _, ok := r.records[h]; ok {
			return h
		}
	}
	for _, h := range r.orderedLocked() {
		if r.records[h].Name == id {
			return h
		}
	}
	return id
}

func (r *Registry) orderedLocked() []string {
	hosts := slices.Collect(maps.Keys(r.records))
	sort.Slice(hosts, func(i, j int) bool { return r.seq[hosts[i]] < r.seq[hosts[j]] })
	return hosts
}

// Find returns engines whose host or name matches the glob pattern, in
// insertion order.
func (r *Registry) Find(pattern string) ([]engine.Record, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var out []engine.Record
	for _, rec := range r.All() {
		if g.Match(rec.Host) || g.Match(rec.Name) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Submission resolves the search URL for terms on the engine id. An empty
// location is filled from the locator when location use is allowed.
func (r *Registry) Submission(id, terms, location string) (string, error) {
	rec, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.QueryURL == "" {
		return "", fmt.Errorf("%w: %s has no query url", ErrNotFound, id)
	}
	if location == "" && r.locator != nil {
		location = r.locator.Address()
	}
	return rec.Submission(terms, location), nil
}

// Geolocation reports whether location may be used in templates.
func (r *Registry) Geolocation() bool {
	return r.locator != nil && r.locator.Allowed()
}

// SetGeolocation allows or forbids location use.
func (r *Registry) SetGeolocation(allow bool) {
	if r.locator != nil {
		r.locator.SetAllowed(allow)
	}
}

// Subscribe registers fn for committed changes.
func (r *Registry) Subscribe(fn func(Change)) (dispose func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Err reports an unresolved quota overrun, or nil.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close unsubscribes from the store and the source. The registry stays
// readable.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	disposes := r.disposes
	r.disposes = nil
	r.mu.Unlock()
	for _, d := range disposes {
		d()
	}
}

func pruneHost(buckets map[string][]string, tag, host string) {
	hosts := buckets[tag]
	i := slices.Index(hosts, host)
	if i < 0 {
		return
	}
	if len(hosts) == 1 {
		delete(buckets, tag)
		return
	}
	buckets[tag] = slices.Delete(slices.Clone(hosts), i, i+1)
}

func uniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
