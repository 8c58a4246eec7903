package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/runstore"
)

func runsCmd() *cli.Command {
	var limit int64
	return &cli.Command{
		Name:      "runs",
		Usage:     "List recorded runs, or the steps of one run",
		ArgsUsage: "[run-id]",
		Flags: append(runStoreFlags(),
			&cli.Int64Flag{
				Name:        "limit",
				Usage:       "maximum number of runs to list (0 = all)",
				Value:       20,
				Destination: &limit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.IsSet("runstore") {
				cfg.RunStore.Path = runStorePath
			}
			if cfg.RunStore.Path == "" {
				return cli.Exit("error: --runstore is required unless runstore.path is configured", 1)
			}
			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if id := cmd.Args().First(); id != "" {
				return showRun(ctx, store, id)
			}
			runs, err := store.ListRuns(ctx, int(limit))
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				finished := "running"
				if !r.FinishedAt.IsZero() {
					finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				rows = append(rows, []string{r.ID, r.Kind, r.StartedAt.Local().Format(time.DateTime), finished})
			}
			renderTable(os.Stdout, "Runs", []string{"ID", "KIND", "STARTED", "DURATION"}, rows)
			return nil
		},
	}
}

func showRun(ctx context.Context, store *runstore.SQLiteStore, id string) error {
	run, ok, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit(fmt.Sprintf("error: run %s not found", id), 1)
	}
	steps, err := store.Steps(ctx, id)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(steps))
	for _, st := range steps {
		row := []string{st.Split, strconv.Itoa(st.Batch), strconv.FormatFloat(st.Loss, 'f', 4, 64), "", ""}
		if st.Monitored {
			row[3] = strconv.FormatFloat(st.F1Samples, 'f', 4, 64)
			row[4] = strconv.FormatFloat(st.F1Det, 'f', 4, 64)
		}
		rows = append(rows, row)
	}
	renderTable(os.Stdout, fmt.Sprintf("Run %s (%s)", run.ID, run.Kind), []string{"SPLIT", "BATCH", "LOSS", "F1 SAMPLES", "F1 DET"}, rows)
	renderSummary(run.Summary)
	return nil
}
