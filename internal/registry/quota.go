package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/engine"
)

// onOverQuota is the store's over-quota hook. Writes made by the registry
// hold r.mu, so the drain is left to the holder; otherwise it runs here.
func (r *Registry) onOverQuota() {
	r.overQuota.Store(true)
	if r.mu.TryLock() {
		r.unlock()
	}
}

// settleLocked drains if a write made under the current lock overran the
// quota, so the triggering call sees the outcome.
func (r *Registry) settleLocked(ctx context.Context) error {
	if !r.overQuota.Swap(false) {
		return nil
	}
	return r.drainLocked(ctx)
}

// drainLocked evicts engines until the store is back within quota. Victims
// are picked by evictionLess. The loop runs at most once per record.
func (r *Registry) drainLocked(ctx context.Context) error {
	for range len(r.records) + 1 {
		u, err := r.store.Usage(ctx)
		if err != nil {
			return fmt.Errorf("store usage: %w", err)
		}
		if u <= 1 {
			r.err = nil
			return nil
		}
		victim, ok := r.victimLocked()
		if !ok {
			break
		}
		log.Warn().Str("host", victim).Float64("usage", u).Msg("store over quota, evicting engine")
		if err := r.removeLocked(ctx, victim); err != nil {
			return fmt.Errorf("evict %s: %w", victim, err)
		}
	}
	if u, err := r.store.Usage(ctx); err == nil && u <= 1 {
		r.err = nil
		return nil
	}
	log.Error().Msg("store over quota with nothing left to evict")
	r.err = ErrQuotaUnresolvable
	return ErrQuotaUnresolvable
}

// victimLocked picks the next engine to evict.
func (r *Registry) victimLocked() (string, bool) {
	var best string
	found := false
	for h := range r.records {
		if !found || r.evictionLess(h, best) {
			best, found = h, true
		}
	}
	return best, found
}

// evictionLess orders eviction candidates: engines without :default first,
// then fewer tags, then older insertion.
func (r *Registry) evictionLess(a, b string) bool {
	ra, rb := r.records[a], r.records[b]
	da, db := ra.HasTag(engine.TagDefault), rb.HasTag(engine.TagDefault)
	if da != db {
		return !da
	}
	if len(ra.Tags) != len(rb.Tags) {
		return len(ra.Tags) < len(rb.Tags)
	}
	return r.seq[a] < r.seq[b]
}
