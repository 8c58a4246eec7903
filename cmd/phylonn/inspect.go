package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/seqmodel"
	"github.com/samcharles93/phylonn/internal/tensor"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the model layout and the tensors of a checkpoint",
		ArgsUsage: "[checkpoint]",
		Flags:     modelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, res, err := loadModel(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			renderInfo(os.Stdout, res.Model.Info())

			sd := res.StateDict()
			if path := cmd.Args().First(); path != "" {
				if sd, err = checkpoint.Load(path); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			renderStateDict(os.Stdout, sd)
			return nil
		},
	}
}

func renderTable(w io.Writer, title string, header []string, rows [][]string) {
	_, _ = fmt.Fprintln(w, " ", title)
	table := tablewriter.NewWriter(w)
	if header != nil {
		table.SetHeader(header)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func renderInfo(w io.Writer, info seqmodel.Info) {
	rows := [][]string{
		{"", "strategy", info.Strategy},
		{"", "block size", strconv.Itoa(info.BlockSize)},
		{"", "vocab size", strconv.Itoa(info.VocabSize)},
		{"", "pkeep", strconv.FormatFloat(info.PKeep, 'g', -1, 64)},
		{"", "top-k", strconv.Itoa(info.TopK)},
	}
	if info.TargetLength > 0 {
		rows = append(rows, []string{"", "target length", strconv.Itoa(info.TargetLength)})
	}
	if info.CondLevel != nil {
		rows = append(rows, []string{"", "condition level", strconv.Itoa(*info.CondLevel)})
	}
	renderTable(w, "Model", nil, rows)

	if h := info.Hierarchy; h != nil {
		renderTable(w, "Hierarchy", nil, [][]string{
			{"", "codebooks per level", strconv.Itoa(h.CodebooksPerLevel)},
			{"", "phylo levels", strconv.Itoa(h.PhyloLevels)},
			{"", "non-attribute levels", strconv.Itoa(h.NonAttrLevels)},
			{"", "codebook size", strconv.Itoa(h.CodebookSize)},
			{"", "embed dim", strconv.Itoa(h.EmbedDim)},
			{"", "sequence length", strconv.Itoa(h.SequenceLength())},
		})
	}
}

func renderStateDict(w io.Writer, sd checkpoint.StateDict) {
	rows := make([][]string, 0, len(sd))
	var total int
	var buf []float64
	for _, name := range sd.Names() {
		t := sd[name]
		total += len(t.Data)
		buf = tensor.Float64s(buf, t.Data)
		norm := 0.0
		if len(buf) > 0 {
			norm = floats.Norm(buf, 2)
		}
		rows = append(rows, []string{name, fmt.Sprint(t.Shape), strconv.Itoa(len(t.Data)), strconv.FormatFloat(norm, 'f', 4, 64)})
	}
	renderTable(w, fmt.Sprintf("Tensors (%d, %d values)", len(sd), total), []string{"NAME", "SHAPE", "NUMEL", "L2 NORM"}, rows)
}
