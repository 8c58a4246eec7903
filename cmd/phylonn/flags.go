package main

import "github.com/urfave/cli/v3"

var (
	configPath     string
	logLevel       string
	logFormat      string
	debug          bool
	checkpointPath string
	strict         bool
	ignoreKeys     []string
	strategy       string
	pkeep          float64
	topK           int64
	seed           int64
	permuterKind   string
	condKind       string
	condLevel      int64
	runStorePath   string
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (defaults to the user config dir)",
			Destination: &configPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"ckpt"},
			Usage:       "path to a .safetensors or .ckpt checkpoint",
			Destination: &checkpointPath,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "fail when checkpoint keys do not match the model",
			Value:       true,
			Destination: &strict,
		},
		&cli.StringSliceFlag{
			Name:        "ignore-keys",
			Usage:       "checkpoint key prefixes to drop before loading",
			Destination: &ignoreKeys,
		},
		&cli.StringFlag{
			Name:        "strategy",
			Usage:       "code composition strategy (phylo, generic)",
			Value:       "phylo",
			Destination: &strategy,
		},
		&cli.FloatFlag{
			Name:        "pkeep",
			Usage:       "probability of keeping a target code; <= 0 samples in one shot",
			Value:       1,
			Destination: &pkeep,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k for stochastic samples",
			Value:       100,
			Destination: &topK,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed",
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "permuter",
			Usage:       "sequence permuter (identity, reverse, shuffle, level_major)",
			Value:       "identity",
			Destination: &permuterKind,
		},
		&cli.StringFlag{
			Name:        "cond",
			Usage:       "condition stage (unconditional, first_stage, label)",
			Value:       "unconditional",
			Destination: &condKind,
		},
		&cli.Int64Flag{
			Name:        "cond-level",
			Usage:       "phylo level the label condition maps to (-1 keeps raw labels)",
			Value:       -1,
			Destination: &condLevel,
		},
	}
}

func runStoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "runstore",
			Usage:       "sqlite database recording runs and step metrics",
			Destination: &runStorePath,
		},
	}
}
