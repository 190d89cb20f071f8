package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hyperifyio/searchspot/internal/hostsearch"
	"github.com/hyperifyio/searchspot/internal/suggest"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Store
	StoreDriver string
	StorePath   string
	StoreQuota  int64

	// Host search service. An empty CatalogPath runs the in-memory host
	// seeded with the built-in engines.
	CatalogPath string

	// Suggestions
	MaxResults     int
	Delay          time.Duration
	MaxConcurrent  int
	RequestTimeout time.Duration
	UserAgent      string
	SSLVerify      bool

	// Geolocation
	Geolocation bool
	Address     string

	// Descriptor cache
	CacheDir    string
	CacheMaxAge time.Duration
	CacheClear  bool

	// Engines registered with the host at startup. LocationEngines wait
	// until an address is known.
	Engines         []hostsearch.Descriptor
	LocationEngines []hostsearch.Descriptor
	// Suggest maps host engine names to suggestion URL templates.
	Suggest map[string]string

	Verbose bool
	LogJSON bool
}

const (
	defaultStoreDriver    = "file"
	defaultStoreQuota     = 5 << 20
	defaultRequestTimeout = 10 * time.Second
	defaultUserAgent      = "searchspot/1.0 (+https://github.com/hyperifyio/searchspot)"
)

// DefaultConfig returns the values the CLI starts from before flags, env and
// the config file are applied.
func DefaultConfig() Config {
	return Config{
		StoreDriver:     defaultStoreDriver,
		StoreQuota:      defaultStoreQuota,
		MaxResults:      suggest.DefaultMaxResults,
		Delay:           suggest.DefaultDelay,
		RequestTimeout:  defaultRequestTimeout,
		UserAgent:       defaultUserAgent,
		SSLVerify:       true,
		LocationEngines: []hostsearch.Descriptor{yelp},
		Suggest:         defaultSuggestOverrides(),
	}
}

var storeDrivers = []string{"memory", "file", "sqlite"}

// ValidateConfig reports every problem in cfg at once.
func ValidateConfig(cfg Config) error {
	var errs []error
	if !slices.Contains(storeDrivers, cfg.StoreDriver) {
		errs = append(errs, fmt.Errorf("store driver %q: want one of %s", cfg.StoreDriver, strings.Join(storeDrivers, ", ")))
	}
	if cfg.StoreQuota < 0 {
		errs = append(errs, fmt.Errorf("store quota must not be negative: %d", cfg.StoreQuota))
	}
	if cfg.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("max results must not be negative: %d", cfg.MaxResults))
	}
	if cfg.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative: %s", cfg.Delay))
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("max concurrent must not be negative: %d", cfg.MaxConcurrent))
	}
	for _, d := range append(append([]hostsearch.Descriptor{}, cfg.Engines...), cfg.LocationEngines...) {
		if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.URL) == "" {
			errs = append(errs, fmt.Errorf("engine %q: name and url are required", d.Name))
		}
	}
	return errors.Join(errs...)
}
