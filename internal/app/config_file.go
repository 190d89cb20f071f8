package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/searchspot/internal/hostsearch"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map naturally to flags and env.
type FileConfig struct {
	Store struct {
		Driver string `yaml:"driver" json:"driver" toml:"driver"`
		Path   string `yaml:"path" json:"path" toml:"path"`
		Quota  int64  `yaml:"quota" json:"quota" toml:"quota"`
	} `yaml:"store" json:"store" toml:"store"`

	Catalog string `yaml:"catalog" json:"catalog" toml:"catalog"`

	Suggest struct {
		MaxResults    int           `yaml:"maxResults" json:"maxResults" toml:"maxResults"`
		Delay         time.Duration `yaml:"delay" json:"delay" toml:"delay"`
		MaxConcurrent int           `yaml:"maxConcurrent" json:"maxConcurrent" toml:"maxConcurrent"`
		Timeout       time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
		UserAgent     string        `yaml:"userAgent" json:"userAgent" toml:"userAgent"`
		SSLVerify     *bool         `yaml:"sslVerify" json:"sslVerify" toml:"sslVerify"`
		// URLs maps host engine names to suggestion URL templates.
		URLs map[string]string `yaml:"urls" json:"urls" toml:"urls"`
	} `yaml:"suggest" json:"suggest" toml:"suggest"`

	Geo struct {
		Enable  bool   `yaml:"enable" json:"enable" toml:"enable"`
		Address string `yaml:"address" json:"address" toml:"address"`
	} `yaml:"geo" json:"geo" toml:"geo"`

	Cache struct {
		Dir    string        `yaml:"dir" json:"dir" toml:"dir"`
		MaxAge time.Duration `yaml:"maxAge" json:"maxAge" toml:"maxAge"`
		Clear  bool          `yaml:"clear" json:"clear" toml:"clear"`
	} `yaml:"cache" json:"cache" toml:"cache"`

	Engines         []hostsearch.Descriptor `yaml:"engines" json:"engines" toml:"engines"`
	LocationEngines []hostsearch.Descriptor `yaml:"locationEngines" json:"locationEngines" toml:"locationEngines"`

	Verbose bool `yaml:"verbose" json:"verbose" toml:"verbose"`
	LogJSON bool `yaml:"logJSON" json:"logJSON" toml:"logJSON"`
}

// LoadConfigFile reads YAML, JSON or TOML into FileConfig, chosen by
// extension. Unknown extensions try each format in turn.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse toml: %w", err)
		}
	default:
		yerr := yaml.Unmarshal(b, &fc)
		if yerr == nil {
			return fc, nil
		}
		fc = FileConfig{}
		jerr := json.Unmarshal(b, &fc)
		if jerr == nil {
			return fc, nil
		}
		fc = FileConfig{}
		terr := toml.Unmarshal(b, &fc)
		if terr == nil {
			return fc, nil
		}
		return FileConfig{}, fmt.Errorf("parse config: %v (yaml) / %v (json) / %v (toml)", yerr, jerr, terr)
	}
	return fc, nil
}

// ApplyFileConfig overlays values from fc into cfg for any field that is
// unset or still at its DefaultConfig value. Flags should already have been
// parsed; file config supplies defaults while explicit flags win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	def := DefaultConfig()

	if (cfg.StoreDriver == "" || cfg.StoreDriver == def.StoreDriver) && fc.Store.Driver != "" {
		cfg.StoreDriver = fc.Store.Driver
	}
	if cfg.StorePath == "" && fc.Store.Path != "" {
		cfg.StorePath = fc.Store.Path
	}
	if (cfg.StoreQuota == 0 || cfg.StoreQuota == def.StoreQuota) && fc.Store.Quota > 0 {
		cfg.StoreQuota = fc.Store.Quota
	}
	if cfg.CatalogPath == "" && fc.Catalog != "" {
		cfg.CatalogPath = fc.Catalog
	}

	if (cfg.MaxResults == 0 || cfg.MaxResults == def.MaxResults) && fc.Suggest.MaxResults > 0 {
		cfg.MaxResults = fc.Suggest.MaxResults
	}
	if (cfg.Delay == 0 || cfg.Delay == def.Delay) && fc.Suggest.Delay > 0 {
		cfg.Delay = fc.Suggest.Delay
	}
	if cfg.MaxConcurrent == 0 && fc.Suggest.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.Suggest.MaxConcurrent
	}
	if (cfg.RequestTimeout == 0 || cfg.RequestTimeout == def.RequestTimeout) && fc.Suggest.Timeout > 0 {
		cfg.RequestTimeout = fc.Suggest.Timeout
	}
	if (cfg.UserAgent == "" || cfg.UserAgent == def.UserAgent) && fc.Suggest.UserAgent != "" {
		cfg.UserAgent = fc.Suggest.UserAgent
	}
	if fc.Suggest.SSLVerify != nil {
		cfg.SSLVerify = *fc.Suggest.SSLVerify
	}
	if len(fc.Suggest.URLs) > 0 {
		if cfg.Suggest == nil {
			cfg.Suggest = map[string]string{}
		}
		for name, u := range fc.Suggest.URLs {
			if _, set := cfg.Suggest[name]; !set || cfg.Suggest[name] == def.Suggest[name] {
				cfg.Suggest[name] = u
			}
		}
	}

	if !cfg.Geolocation && fc.Geo.Enable {
		cfg.Geolocation = true
	}
	if cfg.Address == "" && fc.Geo.Address != "" {
		cfg.Address = fc.Geo.Address
	}

	if cfg.CacheDir == "" && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}

	if len(cfg.Engines) == 0 && len(fc.Engines) > 0 {
		cfg.Engines = append([]hostsearch.Descriptor{}, fc.Engines...)
	}
	if len(fc.LocationEngines) > 0 && (len(cfg.LocationEngines) == 0 || slices.Equal(cfg.LocationEngines, def.LocationEngines)) {
		cfg.LocationEngines = append([]hostsearch.Descriptor{}, fc.LocationEngines...)
	}

	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
	if !cfg.LogJSON && fc.LogJSON {
		cfg.LogJSON = true
	}
}

// LoadConfig applies the config file at path, then env overrides, then
// flags, and validates the result. A missing file is not an error when
// optional is true. flags may be nil.
func LoadConfig(cfg *Config, path string, optional bool, flags func(*Config)) error {
	if path != "" {
		fc, err := LoadConfigFile(path)
		switch {
		case err == nil:
			ApplyFileConfig(cfg, fc)
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return err
		}
	}
	ApplyEnvOverrides(cfg)
	if flags != nil {
		flags(cfg)
	}
	return ValidateConfig(*cfg)
}
