package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/searchspot/internal/app"
)

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	configPath string
	envFiles   []string
	flags      app.Config
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	c := &cli{flags: app.DefaultConfig()}
	root := &cobra.Command{
		Use:   "searchspot",
		Short: "Search engine registry and suggestion aggregator",
		Long: `searchspot mirrors the engines installed in a host search service,
keeps a tagged copy of them and fans typed queries out to every engine with a
suggestion endpoint.

Configuration is read from flags, SEARCHSPOT_* environment variables and a
YAML, JSON or TOML config file, in that order of precedence.`,
		Version:       app.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), c.flags.Verbose, c.flags.LogJSON)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Config file (YAML, JSON or TOML); default "+app.DefaultConfigPath())
	pf.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the environment")
	pf.DurationVar(&c.timeout, "timeout", 2*time.Minute, "Overall operation timeout")
	pf.StringVar(&c.flags.StoreDriver, "store", c.flags.StoreDriver, "Store driver: memory, file or sqlite")
	pf.StringVar(&c.flags.StorePath, "store.path", "", "Store file path")
	pf.Int64Var(&c.flags.StoreQuota, "store.quota", c.flags.StoreQuota, "Store quota in bytes; 0 disables")
	pf.StringVar(&c.flags.CatalogPath, "catalog", "", "Engine catalog file watched as the host search service; empty uses the built-in engines")
	pf.IntVar(&c.flags.MaxResults, "max-results", c.flags.MaxResults, "Suggestions kept per provider")
	pf.DurationVar(&c.flags.Delay, "delay", c.flags.Delay, "Typing pause before a suggestion round starts")
	pf.IntVar(&c.flags.MaxConcurrent, "max-concurrent", 0, "Concurrent suggestion requests; 0 is unlimited")
	pf.DurationVar(&c.flags.RequestTimeout, "request-timeout", c.flags.RequestTimeout, "Per-request timeout")
	pf.StringVar(&c.flags.UserAgent, "user-agent", c.flags.UserAgent, "User-Agent for outgoing requests")
	pf.BoolVar(&c.flags.SSLVerify, "ssl-verify", true, "Verify TLS certificates")
	pf.BoolVar(&c.flags.Geolocation, "geo", false, "Allow location in search templates")
	pf.StringVar(&c.flags.Address, "address", "", "Formatted address used for {searchLocation}")
	pf.StringVar(&c.flags.CacheDir, "cache.dir", "", "Descriptor cache directory")
	pf.DurationVar(&c.flags.CacheMaxAge, "cache.maxAge", 0, "Purge cached descriptors older than this; 0 disables")
	pf.BoolVar(&c.flags.CacheClear, "cache.clear", false, "Clear the descriptor cache at startup")
	pf.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&c.flags.LogJSON, "log.json", false, "Log as JSON instead of console text")

	root.AddCommand(
		c.enginesCmd(),
		c.tagsCmd(),
		c.tagCmd(),
		c.removeCmd(),
		c.submitCmd(),
		c.suggestCmd(),
		c.typeCmd(),
		c.discoverCmd(),
		c.addURLCmd(),
		c.currentCmd(),
		c.watchCmd(),
	)
	return root
}

func setupLogging(w io.Writer, verbose, asJSON bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if asJSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// config merges defaults, the config file, env and explicitly set flags.
func (c *cli) config(cmd *cobra.Command) (app.Config, error) {
	if err := app.LoadEnvFiles(c.envFiles...); err != nil {
		return app.Config{}, fmt.Errorf("load env files: %w", err)
	}
	cfg := app.DefaultConfig()
	app.ApplyEnvToConfig(&cfg)
	path, optional := c.configPath, false
	if path == "" {
		path, optional = app.DefaultConfigPath(), true
	}
	err := app.LoadConfig(&cfg, path, optional, func(cfg *app.Config) {
		c.applyChangedFlags(cmd, cfg)
	})
	if err != nil {
		return app.Config{}, err
	}
	if cfg.Verbose != c.flags.Verbose || cfg.LogJSON != c.flags.LogJSON {
		setupLogging(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogJSON)
	}
	return cfg, nil
}

func (c *cli) applyChangedFlags(cmd *cobra.Command, cfg *app.Config) {
	set := map[string]func(){
		"store":           func() { cfg.StoreDriver = c.flags.StoreDriver },
		"store.path":      func() { cfg.StorePath = c.flags.StorePath },
		"store.quota":     func() { cfg.StoreQuota = c.flags.StoreQuota },
		"catalog":         func() { cfg.CatalogPath = c.flags.CatalogPath },
		"max-results":     func() { cfg.MaxResults = c.flags.MaxResults },
		"delay":           func() { cfg.Delay = c.flags.Delay },
		"max-concurrent":  func() { cfg.MaxConcurrent = c.flags.MaxConcurrent },
		"request-timeout": func() { cfg.RequestTimeout = c.flags.RequestTimeout },
		"user-agent":      func() { cfg.UserAgent = c.flags.UserAgent },
		"ssl-verify":      func() { cfg.SSLVerify = c.flags.SSLVerify },
		"geo":             func() { cfg.Geolocation = c.flags.Geolocation },
		"address":         func() { cfg.Address = c.flags.Address },
		"cache.dir":       func() { cfg.CacheDir = c.flags.CacheDir },
		"cache.maxAge":    func() { cfg.CacheMaxAge = c.flags.CacheMaxAge },
		"cache.clear":     func() { cfg.CacheClear = c.flags.CacheClear },
		"verbose":         func() { cfg.Verbose = c.flags.Verbose },
		"log.json":        func() { cfg.LogJSON = c.flags.LogJSON },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

// open builds the app for one command run. The returned context is
// cancelled on SIGINT or SIGTERM and, when bounded, after --timeout.
func (c *cli) open(cmd *cobra.Command, bounded bool) (context.Context, *app.App, func(), error) {
	cfg, err := c.config(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cancel := func() {}
	if bounded {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		stop()
		return nil, nil, nil, err
	}
	return ctx, a, func() {
		a.Close()
		cancel()
		stop()
	}, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
