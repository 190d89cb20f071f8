package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "SEARCHSPOT_"

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func parseBool(s string) (v, ok bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// ApplyEnvToConfig populates unset fields of cfg from SEARCHSPOT_*
// environment variables. Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	setString(&cfg.StoreDriver, "STORE")
	setString(&cfg.StorePath, "STORE_PATH")
	setString(&cfg.CatalogPath, "CATALOG")
	setString(&cfg.UserAgent, "USER_AGENT")
	setString(&cfg.Address, "ADDRESS")
	setString(&cfg.CacheDir, "CACHE_DIR")

	if cfg.StoreQuota == 0 {
		if n, err := strconv.ParseInt(getenv("STORE_QUOTA"), 10, 64); err == nil && n > 0 {
			cfg.StoreQuota = n
		}
	}
	if cfg.MaxResults == 0 {
		if n, err := strconv.Atoi(getenv("MAX_RESULTS")); err == nil && n > 0 {
			cfg.MaxResults = n
		}
	}
	if cfg.MaxConcurrent == 0 {
		if n, err := strconv.Atoi(getenv("MAX_CONCURRENT")); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}

	setDuration := func(dst *time.Duration, key string) {
		if *dst != 0 {
			return
		}
		if d, err := time.ParseDuration(getenv(key)); err == nil && d > 0 {
			*dst = d
		}
	}
	setDuration(&cfg.Delay, "DELAY")
	setDuration(&cfg.RequestTimeout, "TIMEOUT")
	setDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")

	setBool := func(dst *bool, key string) {
		if *dst {
			return
		}
		if v, ok := parseBool(getenv(key)); ok && v {
			*dst = true
		}
	}
	setBool(&cfg.Geolocation, "GEOLOCATION")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.LogJSON, "LOG_JSON")
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This lets env take precedence over
// values coming from a config file while flags stay highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.StoreDriver, "STORE")
	setString(&cfg.StorePath, "STORE_PATH")
	setString(&cfg.CatalogPath, "CATALOG")
	setString(&cfg.UserAgent, "USER_AGENT")
	setString(&cfg.Address, "ADDRESS")
	setString(&cfg.CacheDir, "CACHE_DIR")

	if n, err := strconv.ParseInt(getenv("STORE_QUOTA"), 10, 64); err == nil && n >= 0 {
		cfg.StoreQuota = n
	}
	if n, err := strconv.Atoi(getenv("MAX_RESULTS")); err == nil && n > 0 {
		cfg.MaxResults = n
	}
	if n, err := strconv.Atoi(getenv("MAX_CONCURRENT")); err == nil && n >= 0 {
		cfg.MaxConcurrent = n
	}

	setDuration := func(dst *time.Duration, key string) {
		if d, err := time.ParseDuration(getenv(key)); err == nil {
			*dst = d
		}
	}
	setDuration(&cfg.Delay, "DELAY")
	setDuration(&cfg.RequestTimeout, "TIMEOUT")
	setDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, key string) {
		if v, ok := parseBool(getenv(key)); ok {
			*dst = v
		}
	}
	setBool(&cfg.Geolocation, "GEOLOCATION")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.SSLVerify, "SSL_VERIFY")
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.LogJSON, "LOG_JSON")
}
