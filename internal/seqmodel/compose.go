package seqmodel

import (
	"fmt"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// LatentShape is the shape of a quantized latent: (batch, channels,
// positions, levels).
type LatentShape struct {
	Batch     int `json:"batch"`
	Channels  int `json:"channels"`
	Positions int `json:"positions"`
	Levels    int `json:"levels"`
}

// ShapeOf returns the latent shape of q.
func ShapeOf(q tensor.Quant) LatentShape {
	return LatentShape{Batch: q.B, Channels: q.C, Positions: q.H, Levels: q.W}
}

// encoding is the first-stage view of a batch. Native holds the full,
// unpermuted code sequences; Target the unpermuted part the transformer
// models.
type encoding struct {
	Quant  tensor.Quant
	Native [][]int
	Target [][]int
}

// composer maps between images and code sequences for one strategy.
type composer interface {
	encode(images []tensor.Image) (encoding, error)
	// decode turns full native sequences into images.
	decode(native [][]int, shape LatentShape) ([]tensor.Image, error)
	// check validates full sequences against a latent shape before any
	// permutation is undone.
	check(seqs [][]int, shape LatentShape) error
	// assemble places unpermuted targets into copies of native sequences.
	assemble(targets, native [][]int) ([][]int, error)
	// targetLength is the per-element target length, or 0 when unknown
	// before encoding.
	targetLength() int
}

type genericComposer struct {
	backbone stage.Backbone
}

func (g genericComposer) encode(images []tensor.Image) (encoding, error) {
	q, idx, err := g.backbone.Encode(images)
	if err != nil {
		return encoding{}, fmt.Errorf("encode first stage: %w", err)
	}
	return encoding{Quant: q, Native: idx, Target: idx}, nil
}

func (g genericComposer) decode(native [][]int, shape LatentShape) ([]tensor.Image, error) {
	if err := g.check(native, shape); err != nil {
		return nil, err
	}
	conv := codes.Converter{CodebooksPerLevel: shape.Positions}
	q, err := conv.Lookup(g.backbone.Codebook(), native, codes.Shape{
		Batch: shape.Batch, Height: shape.Positions, Width: shape.Levels, Channels: shape.Channels,
	})
	if err != nil {
		return nil, err
	}
	return g.backbone.Decode(q)
}

func (genericComposer) check(seqs [][]int, shape LatentShape) error {
	want := shape.Positions * shape.Levels
	if len(seqs) != shape.Batch {
		return fmt.Errorf("%w: %d sequences for batch %d", codes.ErrShapeMismatch, len(seqs), shape.Batch)
	}
	for b, seq := range seqs {
		if len(seq) != want {
			return fmt.Errorf("%w: sequence %d has length %d, latent holds %d", codes.ErrShapeMismatch, b, len(seq), want)
		}
	}
	return nil
}

func (genericComposer) assemble(targets, native [][]int) ([][]int, error) {
	return targets, nil
}

func (genericComposer) targetLength() int { return 0 }

// phyloComposer concatenates phylo and non-phylo codes. With level >= 0 the
// target is restricted to the phylo codes of levels [0, level].
type phyloComposer struct {
	backbone stage.PhyloBackbone
	h        codes.Hierarchy
	conv     codes.Converter
	level    int
}

func (p *phyloComposer) encode(images []tensor.Image) (encoding, error) {
	enc, err := p.backbone.EncodePhylo(images)
	if err != nil {
		return encoding{}, fmt.Errorf("encode first stage: %w", err)
	}
	q, err := tensor.ConcatW(enc.Phylo, enc.NonPhylo)
	if err != nil {
		return encoding{}, err
	}
	if len(enc.PhyloIdx) != len(enc.NonPhyloIdx) {
		return encoding{}, fmt.Errorf("%w: %d phylo and %d non-phylo sequences", codes.ErrShapeMismatch, len(enc.PhyloIdx), len(enc.NonPhyloIdx))
	}
	native := make([][]int, len(enc.PhyloIdx))
	for b := range native {
		seq := make([]int, 0, len(enc.PhyloIdx[b])+len(enc.NonPhyloIdx[b]))
		seq = append(seq, enc.PhyloIdx[b]...)
		native[b] = append(seq, enc.NonPhyloIdx[b]...)
	}
	out := encoding{Quant: q, Native: native, Target: native}
	if p.level >= 0 {
		if out.Target, err = p.conv.BatchUpToLevel(enc.PhyloIdx, p.level); err != nil {
			return encoding{}, err
		}
	}
	return out, nil
}

// check requires cpl*(phylo+non-phylo) codes per sequence and a latent
// with one level per hierarchy level.
func (p *phyloComposer) check(seqs [][]int, shape LatentShape) error {
	if shape.Levels != p.h.TotalLevels() {
		return fmt.Errorf("%w: latent has %d levels, hierarchy has %d", codes.ErrShapeMismatch, shape.Levels, p.h.TotalLevels())
	}
	if len(seqs) != shape.Batch {
		return fmt.Errorf("%w: %d sequences for batch %d", codes.ErrShapeMismatch, len(seqs), shape.Batch)
	}
	want := p.h.SequenceLength()
	for b, seq := range seqs {
		if len(seq) != want {
			return fmt.Errorf("%w: sequence %d has length %d, want %d", codes.ErrShapeMismatch, b, len(seq), want)
		}
	}
	return nil
}

func (p *phyloComposer) decode(native [][]int, shape LatentShape) ([]tensor.Image, error) {
	if err := p.check(native, shape); err != nil {
		return nil, err
	}
	nPhylo := p.h.PhyloCodes()
	phylo := make([][]int, len(native))
	nonPhylo := make([][]int, len(native))
	for b, seq := range native {
		phylo[b], nonPhylo[b] = seq[:nPhylo], seq[nPhylo:]
	}
	cb := p.backbone.Codebook()
	zPhylo, err := p.conv.Lookup(cb, phylo, codes.Shape{
		Batch: shape.Batch, Height: shape.Positions, Width: p.h.PhyloLevels, Channels: shape.Channels,
	})
	if err != nil {
		return nil, err
	}
	zNonPhylo, err := p.conv.Lookup(cb, nonPhylo, codes.Shape{
		Batch: shape.Batch, Height: shape.Positions, Width: p.h.NonAttrLevels, Channels: shape.Channels,
	})
	if err != nil {
		return nil, err
	}
	return p.backbone.DecodePhylo(zPhylo, zNonPhylo)
}

// assemble writes restricted targets over the phylo levels [0, level] of
// the native sequences. Unrestricted targets already are full sequences.
func (p *phyloComposer) assemble(targets, native [][]int) ([][]int, error) {
	if p.level < 0 {
		return targets, nil
	}
	if len(targets) != len(native) {
		return nil, fmt.Errorf("%w: %d targets for %d sequences", codes.ErrShapeMismatch, len(targets), len(native))
	}
	keep := p.level + 1
	cpl := p.h.CodebooksPerLevel
	out := make([][]int, len(native))
	for b := range native {
		if len(targets[b]) != cpl*keep || len(native[b]) != p.h.SequenceLength() {
			return nil, fmt.Errorf("%w: target %d has length %d, want %d", codes.ErrShapeMismatch, b, len(targets[b]), cpl*keep)
		}
		seq := append([]int(nil), native[b]...)
		for pos := 0; pos < cpl; pos++ {
			copy(seq[pos*p.h.PhyloLevels:pos*p.h.PhyloLevels+keep], targets[b][pos*keep:(pos+1)*keep])
		}
		out[b] = seq
	}
	return out, nil
}

func (p *phyloComposer) targetLength() int {
	if p.level >= 0 {
		return p.h.CodebooksPerLevel * (p.level + 1)
	}
	return p.h.SequenceLength()
}
