package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/imageio"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/runstore"
	"github.com/samcharles93/phylonn/internal/seqmodel"
)

func sampleCmd() *cli.Command {
	var (
		imagesDir   string
		outDir      string
		n           int64
		labels      []int64
		temperature float64
		workers     int64
	)
	return &cli.Command{
		Name:  "sample",
		Usage: "Render inputs, reconstructions and samples as image grids",
		Flags: append(append(modelFlags(), runStoreFlags()...),
			&cli.StringFlag{
				Name:        "images",
				Usage:       "directory of input images (labels from labels.yaml)",
				Destination: &imagesDir,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory for the grids",
				Value:       "samples",
				Destination: &outDir,
			},
			&cli.Int64Flag{
				Name:        "n",
				Usage:       "number of batch elements to render",
				Value:       4,
				Destination: &n,
			},
			&cli.Int64SliceFlag{
				Name:        "labels",
				Usage:       "class labels to condition on",
				Destination: &labels,
			},
			&cli.FloatFlag{
				Name:        "temperature",
				Aliases:     []string{"temp", "t"},
				Usage:       "sampling temperature",
				Value:       1,
				Destination: &temperature,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "concurrent image decoders",
				Value:       4,
				Destination: &workers,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg, res, err := loadModel(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			b, err := loadBatch(ctx, cfg, batchOptions{
				dir: imagesDir, n: int(n), labels: labels, workers: int(workers), limit: int(n),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			if store != nil {
				defer func() { _ = store.Close() }()
				if err := store.StartRun(ctx, runstore.Run{ID: runID, Kind: "sample", Config: configMap(cfg)}); err != nil {
					return err
				}
			}

			steps := 0
			grids, err := res.Model.LogImages(ctx, b, seqmodel.LogOptions{
				N:           int(n),
				Temperature: float32(temperature),
				TopK:        cfg.Model.TopK,
				Callback:    func(int) { steps++ },
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			keys := make([]string, 0, len(grids))
			for key := range grids {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				path := filepath.Join(outDir, key+".png")
				if err := imageio.SaveGrid(path, grids[key]); err != nil {
					return fmt.Errorf("save %s: %w", key, err)
				}
				log.Info("wrote grid", "key", key, "path", path, "images", len(grids[key]))
			}
			if store != nil {
				if err := store.FinishRun(ctx, runID, map[string]float64{"sample/steps": float64(steps)}); err != nil {
					return err
				}
			}
			log.Debug("sampling finished", "run", runID, "steps", steps)
			return nil
		},
	}
}
