// Package suggest fans a query out to every engine with a suggestion
// endpoint and reports each provider's normalized answer as it arrives.
// Answers for a term that is no longer the active one are dropped.
package suggest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/fetch"
	"github.com/hyperifyio/searchspot/internal/geo"
)

// DefaultMaxResults caps suggestions per provider.
const DefaultMaxResults = 3

// Engines lists engines by tag. *registry.Registry implements it.
type Engines interface {
	ByTag(tag string) []engine.Record
}

// Fetcher performs suggestion GETs. *fetch.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Sink receives batches, one at a time. Results must not call back into
// the aggregator.
type Sink interface {
	Results(Batch)
}

// Aggregator runs suggestion rounds. The zero value is not usable; Engines,
// Client and Sink are required.
type Aggregator struct {
	Engines Engines
	Client  Fetcher
	Sink    Sink
	// Locator fills {searchLocation}; nil means no location.
	Locator *geo.Locator
	// Providers maps engine hosts to response shapes. Hosts not listed use
	// KindSuggest.
	Providers map[string]Provider
	// MaxResults per provider; zero means DefaultMaxResults.
	MaxResults int
	// MaxConcurrent bounds in-flight requests per round; zero is unlimited.
	MaxConcurrent int

	mu     sync.Mutex
	active string
}

// SetActive records the term the user currently has typed. Completions for
// any other term are discarded.
func (a *Aggregator) SetActive(term string) {
	a.mu.Lock()
	a.active = term
	a.mu.Unlock()
}

// Active returns the current term.
func (a *Aggregator) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Run queries every :default engine that has a suggestion URL and sends one
// batch per provider to the sink as each completes. Provider failures are
// logged and skipped. Run returns when all providers finished, with ctx's
// error if it was cancelled.
func (a *Aggregator) Run(ctx context.Context, term string) error {
	if a.Engines == nil || a.Client == nil || a.Sink == nil {
		return errors.New("suggest: aggregator needs engines, client and sink")
	}
	round := uuid.NewString()
	logger := log.With().Str("round", round).Str("terms", term).Logger()
	location := ""
	if a.Locator != nil {
		location = a.Locator.Address()
	}

	var g errgroup.Group
	if a.MaxConcurrent > 0 {
		g.SetLimit(a.MaxConcurrent)
	}
	n := 0
	for _, rec := range a.Engines.ByTag(engine.TagDefault) {
		u := rec.Suggestion(term, location)
		if u == "" {
			continue
		}
		n++
		g.Go(func() error {
			a.query(ctx, logger, round, rec.Host, term, u)
			return nil
		})
	}
	_ = g.Wait()
	logger.Debug().Int("providers", n).Msg("suggestion round finished")
	return ctx.Err()
}

func (a *Aggregator) query(ctx context.Context, logger zerolog.Logger, round, host, term, u string) {
	body, _, err := a.Client.Get(ctx, u)
	if err != nil {
		ev := logger.Warn()
		var se *fetch.StatusError
		if errors.As(err, &se) {
			ev = ev.Int("status", se.Code)
		}
		if ctx.Err() != nil {
			ev = logger.Debug()
		}
		ev.Err(err).Str("host", host).Msg("suggestion request failed")
		return
	}
	p, ok := a.Providers[host]
	if !ok {
		p = Provider{Kind: KindSuggest}
	}
	limit := a.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	batch, err := Normalize(p, body, term, limit)
	if err != nil {
		logger.Warn().Err(err).Str("host", host).Msg("cannot parse suggestions")
		return
	}
	batch.Name = host
	batch.Round = round
	if !a.emit(batch) {
		logger.Debug().Str("host", host).Msg("dropping stale suggestions")
	}
}

// emit hands batch to the sink if its term is still the active one. The
// check and the delivery happen under the same lock as SetActive, so a
// batch never reaches the sink after its term was replaced.
func (a *Aggregator) emit(batch Batch) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !SameTerm(a.active, batch.Terms) {
		return false
	}
	a.Sink.Results(batch)
	return true
}
