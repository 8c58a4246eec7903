package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/config"
	"github.com/samcharles93/phylonn/internal/logger"
)

func initCmd() *cli.Command {
	var (
		dir   string
		dtype string
		force bool
	)
	return &cli.Command{
		Name:  "init",
		Usage: "Write a config and a freshly initialised toy checkpoint",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "output directory",
				Value:       ".",
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "checkpoint dtype (F32, F16, BF16)",
				Value:       "F32",
				Destination: &dtype,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "overwrite existing files",
				Destination: &force,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			applyModelConfig(cmd, &cfg)
			// a fresh model must not try to restore the checkpoint it is about to write
			cfg.Checkpoint.Path = ""

			cfgPath := filepath.Join(dir, "config.yaml")
			ckptPath := filepath.Join(dir, "model.safetensors")
			if !force {
				for _, p := range []string{cfgPath, ckptPath} {
					if _, err := os.Stat(p); err == nil {
						return cli.Exit(fmt.Sprintf("error: %s exists (use --force)", p), 1)
					}
				}
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			res, err := buildFresh(ctx, cfg)
			if err != nil {
				return err
			}
			if err := checkpoint.Save(ckptPath, res.StateDict(), dtype); err != nil {
				return fmt.Errorf("write checkpoint: %w", err)
			}
			abs, err := filepath.Abs(ckptPath)
			if err != nil {
				abs = ckptPath
			}
			cfg.Checkpoint.Path = abs
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			log.Info("initialised", "config", cfgPath, "checkpoint", ckptPath, "dtype", dtype)
			return nil
		},
	}
}
