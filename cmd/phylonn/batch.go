package main

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/phylonn/internal/config"
	"github.com/samcharles93/phylonn/internal/imageio"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

type batchOptions struct {
	dir     string
	n       int
	labels  []int64
	workers int
	limit   int
}

// loadBatch reads the images of opts.dir, or makes n blank images when no
// directory is given. Explicit labels replace any labels.yaml.
func loadBatch(ctx context.Context, cfg config.Config, opts batchOptions) (stage.Batch, error) {
	var b stage.Batch
	if opts.dir != "" {
		var err error
		b, _, err = imageio.LoadDir(ctx, opts.dir, imageio.DirOptions{
			Channels: cfg.Backbone.Channels,
			Size:     cfg.Backbone.ImageSize,
			Workers:  opts.workers,
			Limit:    opts.limit,
		})
		if err != nil {
			return stage.Batch{}, err
		}
	} else {
		n := opts.n
		if n <= 0 {
			n = max(len(opts.labels), 1)
		}
		b.Images = make([]tensor.Image, n)
		for i := range b.Images {
			b.Images[i] = tensor.NewImage(cfg.Backbone.Channels, cfg.Backbone.ImageSize, cfg.Backbone.ImageSize)
		}
	}
	if len(opts.labels) > 0 {
		b.Labels = make([]int, len(opts.labels))
		for i, l := range opts.labels {
			b.Labels[i] = int(l)
		}
	}
	return b, nil
}

// configMap flattens cfg into the generic form the run store keeps.
func configMap(cfg config.Config) map[string]any {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
