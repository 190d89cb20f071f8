// Package app wires configuration, storage, the host search service, the
// engine registry and the suggestion pipeline into one lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/cache"
	"github.com/hyperifyio/searchspot/internal/discover"
	"github.com/hyperifyio/searchspot/internal/fetch"
	"github.com/hyperifyio/searchspot/internal/geo"
	"github.com/hyperifyio/searchspot/internal/hostsearch"
	"github.com/hyperifyio/searchspot/internal/present"
	"github.com/hyperifyio/searchspot/internal/registry"
	"github.com/hyperifyio/searchspot/internal/store"
	"github.com/hyperifyio/searchspot/internal/suggest"
)

// host is the host search service plus the local extras the app needs.
type host interface {
	hostsearch.Service
	SetCurrent(name string) error
	Current() string
}

type App struct {
	cfg Config

	store    store.Store
	host     host
	catalog  *hostsearch.FileService
	mirror   *hostsearch.Mirror
	registry *registry.Registry
	locator  *geo.Locator

	suggestClient    *fetch.Client
	descriptorClient *fetch.Client
	pageClient       *fetch.Client

	disposes []func()
}

// New opens the store, starts the host stand-in and builds the registry on
// top of them. Close releases everything New acquired.
func New(ctx context.Context, cfg Config) (*App, error) {
	resolvePaths(&cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}

	var httpCache *cache.HTTPCache
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge)
			if err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("purged stale descriptor cache entries")
			}
		}
		httpCache = &cache.HTTPCache{Dir: cfg.CacheDir}
	}

	httpClient := newHTTPClient(cfg.SSLVerify, 0)
	a.suggestClient = &fetch.Client{
		HTTPClient:        httpClient,
		UserAgent:         cfg.UserAgent,
		Accept:            "application/x-suggestions+json, application/json;q=0.9, */*;q=0.1",
		MaxAttempts:       1,
		PerRequestTimeout: cfg.RequestTimeout,
		MaxConcurrent:     cfg.MaxConcurrent,
	}
	a.descriptorClient = &fetch.Client{
		HTTPClient:          httpClient,
		UserAgent:           cfg.UserAgent,
		Accept:              discover.DescriptorType + ", application/xml;q=0.9",
		AllowedContentTypes: discover.XMLContentTypes,
		MaxAttempts:         2,
		PerRequestTimeout:   cfg.RequestTimeout,
		Cache:               httpCache,
	}
	a.pageClient = &fetch.Client{
		HTTPClient:          httpClient,
		UserAgent:           cfg.UserAgent,
		Accept:              "text/html,application/xhtml+xml",
		AllowedContentTypes: []string{"text/html", "application/xhtml+xml"},
		MaxAttempts:         2,
		PerRequestTimeout:   cfg.RequestTimeout,
		MaxBodyBytes:        4 << 20,
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openHost(); err != nil {
		a.Close()
		return nil, err
	}

	a.mirror = hostsearch.NewMirror(a.host, discover.Validator{Client: a.descriptorClient})
	a.disposes = append(a.disposes, a.mirror.Close)
	for _, d := range cfg.Engines {
		a.addEngine(ctx, d)
	}
	a.attachSuggestURLs()

	a.locator = geo.New(cfg.Geolocation, cfg.Address)
	reg, err := registry.New(ctx, a.store, a.mirror, a.locator)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	a.registry = reg
	a.disposes = append(a.disposes, reg.Close)

	appCtx := context.WithoutCancel(ctx)
	for _, d := range cfg.LocationEngines {
		a.disposes = append(a.disposes, a.locator.OnceAddress(func(addr string) {
			log.Debug().Str("engine", d.Name).Str("address", addr).Msg("location known, adding engine")
			a.addEngine(appCtx, d)
		}))
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.StorePath), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	st, err := store.Open(ctx, store.Options{Driver: a.cfg.StoreDriver, Path: a.cfg.StorePath, Quota: a.cfg.StoreQuota})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.disposes = append(a.disposes, func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	})
	log.Debug().Str("driver", a.cfg.StoreDriver).Str("path", a.cfg.StorePath).Int64("quota", a.cfg.StoreQuota).Msg("store opened")
	return nil
}

func (a *App) openHost() error {
	opts := []hostsearch.MemoryOption{hostsearch.WithFetcher(a.descriptorClient)}
	if a.cfg.CatalogPath == "" {
		a.host = hostsearch.NewMemoryService(DefaultHostEngines(), opts...)
		return nil
	}
	fs, err := hostsearch.OpenFileService(a.cfg.CatalogPath, opts...)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	a.host = fs
	a.catalog = fs
	a.disposes = append(a.disposes, func() {
		if err := fs.Close(); err != nil {
			log.Warn().Err(err).Msg("catalog close failed")
		}
	})
	log.Debug().Str("path", fs.Path()).Msg("watching engine catalog")
	return nil
}

// addEngine registers d with the host. Engines that survived from an
// earlier run are left alone.
func (a *App) addEngine(ctx context.Context, d hostsearch.Descriptor) {
	res, err := a.mirror.Add(ctx, d)
	switch {
	case errors.Is(err, hostsearch.ErrExists):
		log.Debug().Str("engine", d.Name).Msg("engine already installed")
	case err != nil:
		log.Warn().Err(err).Str("engine", d.Name).Msg("add engine failed")
	case d.Suggest != "":
		log.Debug().Str("engine", d.Name).Stringer("suggest", res).Msg("engine added")
	}
}

// attachSuggestURLs gives configured suggestion endpoints to engines that
// have none. Engines that already answer suggestions keep theirs.
func (a *App) attachSuggestURLs() {
	for name, u := range a.cfg.Suggest {
		se, ok := a.mirror.Get(name)
		if !ok {
			log.Debug().Str("engine", name).Msg("no such engine for suggest url")
			continue
		}
		if se.SuggestTemplate() != "" {
			continue
		}
		res := a.mirror.AddSuggest(name, u)
		log.Debug().Str("engine", name).Stringer("result", res).Msg("suggest url attached")
	}
}

// Close releases resources in reverse acquisition order. Safe to call more
// than once.
func (a *App) Close() {
	for i := len(a.disposes) - 1; i >= 0; i-- {
		a.disposes[i]()
	}
	a.disposes = nil
}

func (a *App) Registry() *registry.Registry { return a.registry }
func (a *App) Mirror() *hostsearch.Mirror { return a.mirror }
func (a *App) Locator() *geo.Locator { return a.locator }
func (a *App) Config() Config { return a.cfg }

// CatalogPath is the watched catalog file, or "" for the in-memory host.
func (a *App) CatalogPath() string {
	if a.catalog == nil {
		return ""
	}
	return a.catalog.Path()
}

// SetCurrent marks name as the host's current engine.
func (a *App) SetCurrent(name string) error { return a.host.SetCurrent(name) }

// Discover fetches pageURL and offers every descriptor it advertises to the
// host. It returns how many were accepted.
func (a *App) Discover(ctx context.Context, pageURL string) (int, error) {
	page, _, err := a.pageClient.Get(ctx, pageURL)
	if err != nil {
		return 0, fmt.Errorf("fetch page: %w", err)
	}
	return a.registry.Discover(ctx, pageURL, page)
}

// Aggregator returns a suggestion aggregator over the :default engines that
// reports to sink.
func (a *App) Aggregator(sink suggest.Sink) *suggest.Aggregator {
	return &suggest.Aggregator{
		Engines:       a.registry,
		Client:        a.suggestClient,
		Sink:          sink,
		Locator:       a.locator,
		Providers:     suggest.DefaultProviders(),
		MaxResults:    a.cfg.MaxResults,
		MaxConcurrent: a.cfg.MaxConcurrent,
	}
}

// Suggest runs one suggestion round for term and returns when every
// provider has answered or failed.
func (a *App) Suggest(ctx context.Context, term string, sink suggest.Sink) error {
	agg := a.Aggregator(sink)
	agg.SetActive(term)
	return agg.Run(ctx, term)
}

// Session is an interactive query session: keystrokes in, batches and
// engine updates out to a presentation surface.
type Session struct {
	surface   present.Surface
	debouncer *suggest.Debouncer
	unbind    func()
}

// NewSession binds s to the registry and starts an idle debouncer.
func (a *App) NewSession(s present.Surface) *Session {
	return &Session{
		surface:   s,
		debouncer: suggest.NewDebouncer(a.Aggregator(s), a.cfg.Delay),
		unbind:    present.Bind(a.registry, s),
	}
}

// Keystroke reports the current text of the search field.
func (s *Session) Keystroke(term string) {
	s.surface.SetTerms(term)
	s.debouncer.Keystroke(term)
}

func (s *Session) Cancel() { s.debouncer.Cancel() }
func (s *Session) State() suggest.State { return s.debouncer.State() }

// Close stops the debouncer and the engine feed.
func (s *Session) Close() {
	s.debouncer.Close()
	s.unbind()
}
