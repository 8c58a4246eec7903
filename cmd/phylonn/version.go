package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/phylonn/internal/version"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build and toolchain information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			return writeVersion(w, version.Resolve())
		},
	}
}

func writeVersion(w io.Writer, info version.Info) error {
	rows := [][2]string{
		{"version", info.Version},
		{"commit", info.Commit},
		{"built", info.BuildTime},
		{"go", info.GoVersion},
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%-8s %s\n", r[0]+":", r[1]); err != nil {
			return err
		}
	}
	return nil
}
