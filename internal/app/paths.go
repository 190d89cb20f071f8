package app

import (
	"os"
	"path/filepath"
)

const dataDirName = "searchspot"

// dataDir is where the store, catalog and cache live when no path is
// configured: $XDG_CONFIG_HOME/searchspot or the platform equivalent, or
// .searchspot in the working directory when that cannot be determined.
func dataDir() string {
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, dataDirName)
	}
	return "." + dataDirName
}

// resolvePaths fills empty storage paths from dataDir. The memory store and
// the in-memory host need none.
func resolvePaths(cfg *Config) {
	dir := ""
	get := func() string {
		if dir == "" {
			dir = dataDir()
		}
		return dir
	}
	if cfg.StorePath == "" {
		switch cfg.StoreDriver {
		case "file":
			cfg.StorePath = filepath.Join(get(), "engines.json")
		case "sqlite":
			cfg.StorePath = filepath.Join(get(), "engines.db")
		}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(get(), "cache")
	}
}

// DefaultConfigPath is the config file read when none is given.
func DefaultConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}
