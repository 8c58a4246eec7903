package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/runstore"
	"github.com/samcharles93/phylonn/internal/seqmodel"
)

// evalReport is the JSON summary of an eval run.
type evalReport struct {
	RunID     string                `json:"run_id"`
	StartedAt time.Time             `json:"started_at"`
	Duration  string                `json:"duration"`
	Images    int                   `json:"images"`
	Batches   int                   `json:"batches"`
	Model     seqmodel.Info         `json:"model"`
	Summary   map[string]float64    `json:"summary"`
	Steps     []seqmodel.StepResult `json:"steps"`
}

func evalCmd() *cli.Command {
	var (
		imagesDir  string
		batchSize  int64
		limit      int64
		workers    int64
		reportPath string
	)
	return &cli.Command{
		Name:  "eval",
		Usage: "Run validation steps over a directory of images",
		Flags: append(append(modelFlags(), runStoreFlags()...),
			&cli.StringFlag{
				Name:        "images",
				Usage:       "directory of images (labels from labels.yaml)",
				Required:    true,
				Destination: &imagesDir,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Aliases:     []string{"bs"},
				Usage:       "images per validation step",
				Value:       8,
				Destination: &batchSize,
			},
			&cli.Int64Flag{
				Name:        "limit",
				Usage:       "maximum number of images (0 = all)",
				Destination: &limit,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "concurrent image decoders",
				Value:       4,
				Destination: &workers,
			},
			&cli.StringFlag{
				Name:        "report",
				Usage:       "write a JSON report to this path (- for stdout)",
				Destination: &reportPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg, res, err := loadModel(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			b, err := loadBatch(ctx, cfg, batchOptions{dir: imagesDir, workers: int(workers), limit: int(limit)})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if b.Len() == 0 {
				return cli.Exit(fmt.Sprintf("error: no images in %s", imagesDir), 1)
			}

			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			report := evalReport{
				RunID:     uuid.NewString(),
				StartedAt: time.Now().UTC(),
				Images:    b.Len(),
				Model:     res.Model.Info(),
			}
			if store != nil {
				defer func() { _ = store.Close() }()
				if err := store.StartRun(ctx, runstore.Run{ID: report.RunID, Kind: "eval", Config: configMap(cfg), StartedAt: report.StartedAt}); err != nil {
					return err
				}
			}

			batches := b.Split(int(batchSize))
			report.Batches = len(batches)
			for i, part := range batches {
				step, err := res.Model.ValidationStep(ctx, part, i)
				if err != nil {
					return fmt.Errorf("batch %d: %w", i, err)
				}
				report.Steps = append(report.Steps, step)
				if store != nil {
					if err := store.LogStep(ctx, runstore.Step{
						RunID:     report.RunID,
						Split:     seqmodel.SplitVal,
						Batch:     i,
						Loss:      step.Loss,
						Monitored: step.Monitored,
						F1Samples: step.F1Samples,
						F1Det:     step.F1Det,
					}); err != nil {
						return err
					}
				}
			}
			report.Summary = res.Model.Metrics().EndEpoch()
			report.Duration = time.Since(report.StartedAt).String()
			if store != nil {
				if err := store.FinishRun(ctx, report.RunID, report.Summary); err != nil {
					return err
				}
			}
			log.Info("eval finished", "run", report.RunID, "batches", report.Batches, "duration", report.Duration)

			renderSummary(report.Summary)
			return writeReport(reportPath, report)
		},
	}
}

func renderSummary(summary map[string]float64) {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatFloat(summary[name], 'f', 4, 64)})
	}
	renderTable(os.Stdout, "Summary", []string{"METRIC", "MEAN"}, rows)
}

func writeReport(path string, report evalReport) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
