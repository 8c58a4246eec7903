package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/config"
	"github.com/samcharles93/phylonn/internal/inference"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/runstore"
)

var errNoConfig = errors.New("configuration not loaded")

type configKey struct{}

// setup loads the config file, applies the logging flags and stores both
// on the context for the subcommands.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.Logging.Format = logFormat
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	log := logger.ForFormat(cfg.Logging.Format, os.Stderr, logger.ParseLevel(cfg.Logging.Level))
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFromContext(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errNoConfig
	}
	return cfg, nil
}

// applyModelConfig overrides config file values with the model flags that
// were explicitly set on the command line.
func applyModelConfig(c *cli.Command, cfg *config.Config) {
	if c.IsSet("checkpoint") {
		cfg.Checkpoint.Path = checkpointPath
	}
	if c.IsSet("strict") {
		cfg.Checkpoint.Strict = strict
	}
	if c.IsSet("ignore-keys") {
		cfg.Checkpoint.IgnoreKeys = ignoreKeys
	}
	if c.IsSet("strategy") {
		cfg.Model.Strategy = strategy
	}
	if c.IsSet("pkeep") {
		cfg.Model.PKeep = pkeep
	}
	if c.IsSet("top-k") || c.IsSet("top_k") || c.IsSet("topk") {
		cfg.Model.TopK = int(topK)
	}
	if c.IsSet("seed") {
		cfg.Model.Seed = seed
	}
	if c.IsSet("permuter") {
		cfg.Permuter.Kind = permuterKind
	}
	if c.IsSet("cond") {
		cfg.Cond.Kind = condKind
	}
	if c.IsSet("cond-level") {
		cfg.Cond.PhyloLevel = int(condLevel)
	}
	if c.IsSet("runstore") {
		cfg.RunStore.Path = runStorePath
	}
}

// loadModel resolves the configuration for c and builds the model.
func loadModel(ctx context.Context, c *cli.Command) (config.Config, *inference.LoadResult, error) {
	cfg, err := configFromContext(ctx)
	if err != nil {
		return config.Config{}, nil, err
	}
	applyModelConfig(c, &cfg)
	res, err := inference.Loader{Config: cfg, Logger: logger.FromContext(ctx)}.Load(ctx)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load model: %w", err)
	}
	return cfg, res, nil
}

// openRunStore opens the configured run store; a nil store means none is
// configured.
func openRunStore(ctx context.Context, cfg config.Config) (*runstore.SQLiteStore, error) {
	if cfg.RunStore.Path == "" {
		return nil, nil
	}
	store := runstore.NewSQLiteStore(cfg.RunStore.Path)
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return store, nil
}

// buildFresh builds the model described by cfg without consulting the
// command line.
func buildFresh(ctx context.Context, cfg config.Config) (*inference.LoadResult, error) {
	res, err := inference.Loader{Config: cfg, Logger: logger.FromContext(ctx)}.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	return res, nil
}
