package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/cmsengine/internal/config"
	"github.com/nainya/cmsengine/internal/logger"
	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/resolve"
	"github.com/nainya/cmsengine/pkg/sqlstore"
	"github.com/nainya/cmsengine/pkg/version"
)

// engine bundles the collaborators every subcommand needs
type engine struct {
	cfg      config.Config
	log      *logger.Logger
	store    *sqlstore.Store
	layouts  *layout.Registry
	writer   *version.Writer
	resolver *resolve.Resolver
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFile(rootFlags.config)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = rootFlags.db
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = rootFlags.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = rootFlags.pretty
	}
	return cfg, nil
}

// openEngine loads configuration and opens the database. observe may be nil.
func openEngine(cmd *cobra.Command, observe sqlstore.Observer) (*engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})

	layouts, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	store, err := sqlstore.Open(sqlstore.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Logger:   log.StoreLogger(),
		Clock:    clk,
		Observe:  observe,
	})
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:     cfg,
		log:     log,
		store:   store,
		layouts: layouts,
		writer:  version.NewWriter(store, clk, version.WithLogger(log.VersionLogger())),
		resolver: resolve.New(store, store, layouts,
			resolve.WithClock(clk),
			resolve.WithLogger(log.ResolverLogger()),
			resolve.WithMaxDepth(cfg.Resolver.MaxDepth),
			resolve.WithParallelism(cfg.Resolver.Parallelism),
		),
	}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

func printYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC 3339: %w", err)
	}
	return t, nil
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
