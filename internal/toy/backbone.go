// Package toy provides small deterministic collaborators: a patch residual-VQ
// backbone, a code-driven classifier and a positional bigram transformer.
// They are cheap enough for tests and let the CLI run end to end without
// external models.
package toy

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

var ErrConfig = errors.New("toy: invalid configuration")

// BackboneConfig sizes a Backbone. CodebooksPerLevel must be a perfect
// square: the image is cut into a sqrt x sqrt grid of patches, one position
// per patch. EmbedDim must equal Channels.
type BackboneConfig struct {
	Hierarchy codes.Hierarchy
	ImageSize int
	Channels  int
	Seed      int64
}

// Backbone quantizes each image patch's mean colour with residual vector
// quantization: level 0 picks the nearest codebook row to the mean, every
// further level quantizes what is left. Coarse levels therefore carry the
// bulk of the signal, which makes the phylo/non-phylo split meaningful.
type Backbone struct {
	cfg      BackboneConfig
	side     int
	codebook tensor.Mat
	conv     codes.Converter
}

// NewBackbone builds a backbone with a reproducible random codebook.
func NewBackbone(cfg BackboneConfig) (*Backbone, error) {
	h := cfg.Hierarchy
	if err := h.Validate(); err != nil {
		return nil, err
	}
	side := int(math.Round(math.Sqrt(float64(h.CodebooksPerLevel))))
	if side*side != h.CodebooksPerLevel {
		return nil, fmt.Errorf("%w: codebooks_per_level %d is not a square", ErrConfig, h.CodebooksPerLevel)
	}
	if cfg.Channels <= 0 || h.EmbedDim != cfg.Channels {
		return nil, fmt.Errorf("%w: embed_dim %d must equal channels %d", ErrConfig, h.EmbedDim, cfg.Channels)
	}
	if cfg.ImageSize < side {
		return nil, fmt.Errorf("%w: image size %d smaller than patch grid %d", ErrConfig, cfg.ImageSize, side)
	}
	b := &Backbone{
		cfg:      cfg,
		side:     side,
		codebook: tensor.NewMat(h.CodebookSize, h.EmbedDim),
		conv:     codes.Converter{CodebooksPerLevel: h.CodebooksPerLevel},
	}
	tensor.FillRand(&b.codebook, cfg.Seed+11, 2)
	levels := h.TotalLevels()
	for i := 0; i < b.codebook.R; i++ {
		band := i * levels / b.codebook.R
		tensor.Scale(b.codebook.Row(i), float32(math.Pow(0.5, float64(band))))
	}
	return b, nil
}

func (b *Backbone) Hierarchy() codes.Hierarchy { return b.cfg.Hierarchy }

func (b *Backbone) Codebook() tensor.Mat { return b.codebook }

// ImageSize is the square input and output resolution.
func (b *Backbone) ImageSize() int { return b.cfg.ImageSize }

// Params exposes the codebook for checkpointing.
func (b *Backbone) Params() checkpoint.StateDict {
	return checkpoint.StateDict{
		"quantize.embedding.weight": {Shape: []int{b.codebook.R, b.codebook.C}, Data: b.codebook.Data},
	}
}

// grid encodes images into a (batch, position, level) index grid.
func (b *Backbone) grid(images []tensor.Image) (codes.Grid, error) {
	h := b.cfg.Hierarchy
	levels := h.TotalLevels()
	g := codes.NewGrid(len(images), h.CodebooksPerLevel, levels)
	residual := make([]float32, b.cfg.Channels)
	for i, img := range images {
		if img.C != b.cfg.Channels {
			return codes.Grid{}, fmt.Errorf("%w: image %d has %d channels, want %d", codes.ErrShapeMismatch, i, img.C, b.cfg.Channels)
		}
		if img.H != b.cfg.ImageSize || img.W != b.cfg.ImageSize {
			img = tensor.Resize(img, b.cfg.ImageSize, b.cfg.ImageSize)
		}
		for p := 0; p < h.CodebooksPerLevel; p++ {
			b.patchMean(img, p, residual)
			for l := 0; l < levels; l++ {
				idx := b.nearest(residual)
				g.Set(i, p, l, idx)
				row := b.codebook.Row(idx)
				for c := range residual {
					residual[c] -= row[c]
				}
			}
		}
	}
	return g, nil
}

func (b *Backbone) patchBounds(p int) (y0, y1, x0, x1 int) {
	py, px := p/b.side, p%b.side
	n := b.cfg.ImageSize
	return py * n / b.side, (py + 1) * n / b.side, px * n / b.side, (px + 1) * n / b.side
}

func (b *Backbone) patchMean(img tensor.Image, p int, dst []float32) {
	y0, y1, x0, x1 := b.patchBounds(p)
	area := float32((y1 - y0) * (x1 - x0))
	for c := range dst {
		var sum float32
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				sum += img.At(c, y, x)
			}
		}
		dst[c] = sum / area
	}
}

func (b *Backbone) nearest(v []float32) int {
	best, bestD := 0, float32(math.MaxFloat32)
	for i := 0; i < b.codebook.R; i++ {
		row := b.codebook.Row(i)
		var d float32
		for c, x := range v {
			diff := x - row[c]
			d += diff * diff
		}
		if d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func (b *Backbone) lookup(seqs [][]int, levels int) (tensor.Quant, error) {
	h := b.cfg.Hierarchy
	return b.conv.Lookup(b.codebook, seqs, codes.Shape{
		Batch: len(seqs), Height: h.CodebooksPerLevel, Width: levels, Channels: h.EmbedDim,
	})
}

// Encode returns the full latent (B, C, positions, levels) and the
// position-major index sequences.
func (b *Backbone) Encode(images []tensor.Image) (tensor.Quant, [][]int, error) {
	g, err := b.grid(images)
	if err != nil {
		return tensor.Quant{}, nil, err
	}
	seqs := g.Flatten()
	q, err := b.lookup(seqs, g.Levels)
	if err != nil {
		return tensor.Quant{}, nil, err
	}
	return q, seqs, nil
}

// EncodePhylo splits the levels into the phylo group (the first
// PhyloLevels) and the non-phylo group.
func (b *Backbone) EncodePhylo(images []tensor.Image) (stage.PhyloEncoding, error) {
	g, err := b.grid(images)
	if err != nil {
		return stage.PhyloEncoding{}, err
	}
	h := b.cfg.Hierarchy
	split := stage.PhyloEncoding{
		PhyloIdx:    make([][]int, g.Batch),
		NonPhyloIdx: make([][]int, g.Batch),
	}
	for i := 0; i < g.Batch; i++ {
		phylo := make([]int, 0, h.PhyloCodes())
		non := make([]int, 0, h.NonPhyloCodes())
		for p := 0; p < g.Positions; p++ {
			for l := 0; l < g.Levels; l++ {
				if l < h.PhyloLevels {
					phylo = append(phylo, g.At(i, p, l))
				} else {
					non = append(non, g.At(i, p, l))
				}
			}
		}
		split.PhyloIdx[i], split.NonPhyloIdx[i] = phylo, non
	}
	if split.Phylo, err = b.lookup(split.PhyloIdx, h.PhyloLevels); err != nil {
		return stage.PhyloEncoding{}, err
	}
	if split.NonPhylo, err = b.lookup(split.NonPhyloIdx, h.NonAttrLevels); err != nil {
		return stage.PhyloEncoding{}, err
	}
	return split, nil
}

// Decode sums the level embeddings of each position and paints the patch
// with the result.
func (b *Backbone) Decode(q tensor.Quant) ([]tensor.Image, error) {
	h := b.cfg.Hierarchy
	if q.H != h.CodebooksPerLevel || q.C != b.cfg.Channels {
		return nil, fmt.Errorf("%w: latent %v, want (_, %d, %d, _)", codes.ErrShapeMismatch, q.Shape(), b.cfg.Channels, h.CodebooksPerLevel)
	}
	n := b.cfg.ImageSize
	out := make([]tensor.Image, q.B)
	for i := range out {
		img := tensor.NewImage(q.C, n, n)
		for p := 0; p < q.H; p++ {
			y0, y1, x0, x1 := b.patchBounds(p)
			for c := 0; c < q.C; c++ {
				var v float32
				for l := 0; l < q.W; l++ {
					v += q.At(i, c, p, l)
				}
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						img.Set(c, y, x, v)
					}
				}
			}
		}
		out[i] = img
	}
	return out, nil
}

// DecodePhylo joins the two groups on the level axis and decodes.
func (b *Backbone) DecodePhylo(phylo, nonPhylo tensor.Quant) ([]tensor.Image, error) {
	q, err := tensor.ConcatW(phylo, nonPhylo)
	if err != nil {
		return nil, err
	}
	return b.Decode(q)
}
