package codes

import (
	"fmt"

	"github.com/samcharles93/phylonn/internal/tensor"
)

// Converter slices position-major index sequences by hierarchy level and
// resolves indices to codebook embeddings.
type Converter struct {
	CodebooksPerLevel int
}

// NewConverter returns a converter for the given number of codes per level.
func NewConverter(codebooksPerLevel int) (Converter, error) {
	if codebooksPerLevel <= 0 {
		return Converter{}, fmt.Errorf("%w: codebooks_per_level must be positive, got %d", ErrShapeMismatch, codebooksPerLevel)
	}
	return Converter{CodebooksPerLevel: codebooksPerLevel}, nil
}

// Levels returns the number of levels encoded in seq.
func (c Converter) Levels(seq []int) (int, error) {
	if c.CodebooksPerLevel <= 0 || len(seq)%c.CodebooksPerLevel != 0 {
		return 0, fmt.Errorf("%w: length %d not divisible by %d codebooks per level", ErrShapeMismatch, len(seq), c.CodebooksPerLevel)
	}
	return len(seq) / c.CodebooksPerLevel, nil
}

// Level returns the codes of level i, in position order.
func (c Converter) Level(seq []int, i int) ([]int, error) {
	levels, err := c.Levels(seq)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= levels {
		return nil, fmt.Errorf("%w: level %d of %d", ErrLevelOutOfRange, i, levels)
	}
	out := make([]int, c.CodebooksPerLevel)
	for p := range out {
		out[p] = seq[p*levels+i]
	}
	return out, nil
}

// UpToLevel returns the codes of levels [0, i], still position-major.
func (c Converter) UpToLevel(seq []int, i int) ([]int, error) {
	levels, err := c.Levels(seq)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= levels {
		return nil, fmt.Errorf("%w: level %d of %d", ErrLevelOutOfRange, i, levels)
	}
	keep := i + 1
	out := make([]int, 0, c.CodebooksPerLevel*keep)
	for p := 0; p < c.CodebooksPerLevel; p++ {
		out = append(out, seq[p*levels:p*levels+keep]...)
	}
	return out, nil
}

// BatchLevel applies Level to every sequence.
func (c Converter) BatchLevel(seqs [][]int, i int) ([][]int, error) {
	return batch(seqs, func(s []int) ([]int, error) { return c.Level(s, i) })
}

// BatchUpToLevel applies UpToLevel to every sequence.
func (c Converter) BatchUpToLevel(seqs [][]int, i int) ([][]int, error) {
	return batch(seqs, func(s []int) ([]int, error) { return c.UpToLevel(s, i) })
}

func batch(seqs [][]int, fn func([]int) ([]int, error)) ([][]int, error) {
	out := make([][]int, len(seqs))
	for b, s := range seqs {
		r, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", b, err)
		}
		out[b] = r
	}
	return out, nil
}

// Shape is a quantized latent shape in (batch, height, width, channels)
// order, the order the quantizer's index lookup expects.
type Shape struct {
	Batch, Height, Width, Channels int
}

// Lookup resolves each index to its codebook row and lays the result out as
// (B, C, H, W). Sequences are read position-major, so seq[h*Width+w] lands at
// (h, w).
func (c Converter) Lookup(codebook tensor.Mat, seqs [][]int, shape Shape) (tensor.Quant, error) {
	if len(seqs) != shape.Batch {
		return tensor.Quant{}, fmt.Errorf("%w: %d sequences for batch %d", ErrShapeMismatch, len(seqs), shape.Batch)
	}
	if shape.Channels != codebook.C {
		return tensor.Quant{}, fmt.Errorf("%w: %d channels, codebook dim %d", ErrShapeMismatch, shape.Channels, codebook.C)
	}
	n := shape.Height * shape.Width
	out := tensor.NewQuant(shape.Batch, shape.Channels, shape.Height, shape.Width)
	for b, seq := range seqs {
		if len(seq) != n {
			return tensor.Quant{}, fmt.Errorf("%w: sequence %d has length %d, shape needs %d", ErrShapeMismatch, b, len(seq), n)
		}
		for i, idx := range seq {
			if idx < 0 || idx >= codebook.R {
				return tensor.Quant{}, fmt.Errorf("%w: index %d outside codebook of %d", ErrShapeMismatch, idx, codebook.R)
			}
			row := codebook.Row(idx)
			h, w := i/shape.Width, i%shape.Width
			for ch, v := range row {
				out.Set(b, ch, h, w, v)
			}
		}
	}
	return out, nil
}
