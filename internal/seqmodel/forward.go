package seqmodel

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// Corrupt returns a copy of seqs where every index is kept with probability
// pkeep and otherwise replaced by a uniform draw from [0, vocab). pkeep >= 1
// returns an exact copy without touching rng.
func Corrupt(rng *rand.Rand, seqs [][]int, pkeep float64, vocab int) [][]int {
	out := make([][]int, len(seqs))
	for b, seq := range seqs {
		row := append([]int(nil), seq...)
		if pkeep < 1 {
			for i := range row {
				if rng.Float64() >= pkeep {
					row[i] = rng.Intn(vocab)
				}
			}
		}
		out[b] = row
	}
	return out
}

// zEncoding is a first-stage encoding with the target already permuted.
type zEncoding struct {
	encoding
	Permuted [][]int
}

func (m *Model) encodeToZ(images []tensor.Image) (zEncoding, error) {
	enc, err := m.comp.encode(images)
	if err != nil {
		return zEncoding{}, err
	}
	permuted, err := permute.ForwardBatch(m.perm, enc.Target)
	if err != nil {
		return zEncoding{}, fmt.Errorf("permute target: %w", err)
	}
	return zEncoding{encoding: enc, Permuted: permuted}, nil
}

// encodeToC runs the condition stage, resizing conditioning images first
// when DownsampleCondSize is set.
func (m *Model) encodeToC(b stage.Batch) (stage.CondEncoding, error) {
	if size := m.cfg.DownsampleCondSize; size > 0 {
		src := b.CondImages()
		resized := make([]tensor.Image, len(src))
		for i, img := range src {
			resized[i] = tensor.Resize(img, size, size)
		}
		b.Cond = resized
	}
	c, err := m.cond.Encode(b)
	if err != nil {
		return stage.CondEncoding{}, fmt.Errorf("encode condition: %w", err)
	}
	if len(c.Indices) != b.Len() {
		return stage.CondEncoding{}, fmt.Errorf("%w: condition stage returned %d sequences for %d images", codes.ErrShapeMismatch, len(c.Indices), b.Len())
	}
	for i, seq := range c.Indices {
		if len(seq) == 0 {
			return stage.CondEncoding{}, fmt.Errorf("%w: batch element %d", ErrEmptyCondition, i)
		}
	}
	return c, nil
}

// ForwardResult holds per-element logits aligned with the targets: row i of
// Logits[b] predicts Targets[b][i].
type ForwardResult struct {
	Logits  []tensor.Mat
	Targets [][]int
	Latent  LatentShape
}

// Forward encodes the batch, corrupts the target when training with
// PKeep < 1, and runs the transformer on cond ++ target[:-1]. The first
// len(cond)-1 logit rows only see conditioning and are dropped.
func (m *Model) Forward(b stage.Batch, training bool) (ForwardResult, error) {
	z, err := m.encodeToZ(b.Images)
	if err != nil {
		return ForwardResult{}, err
	}
	c, err := m.encodeToC(b)
	if err != nil {
		return ForwardResult{}, err
	}

	input := z.Permuted
	if training && m.cfg.PKeep < 1 {
		input = Corrupt(m.rng, z.Permuted, m.cfg.PKeep, m.tr.VocabSize())
	}
	seqs := make([][]int, len(input))
	for i := range input {
		cz := make([]int, 0, len(c.Indices[i])+len(input[i]))
		cz = append(cz, c.Indices[i]...)
		cz = append(cz, input[i]...)
		seqs[i] = cz[:len(cz)-1]
		if len(seqs[i]) > m.tr.BlockSize() {
			return ForwardResult{}, fmt.Errorf("%w: %d codes, block size %d", ErrContextExceeded, len(seqs[i]), m.tr.BlockSize())
		}
	}
	out, err := m.tr.Forward(seqs)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("transformer forward: %w", err)
	}
	if len(out) != len(seqs) {
		return ForwardResult{}, fmt.Errorf("%w: transformer returned %d outputs for %d sequences", codes.ErrShapeMismatch, len(out), len(seqs))
	}
	for i := range out {
		skip := len(c.Indices[i]) - 1
		if out[i].R != len(seqs[i]) {
			return ForwardResult{}, fmt.Errorf("%w: transformer returned %d rows for %d codes", codes.ErrShapeMismatch, out[i].R, len(seqs[i]))
		}
		out[i] = out[i].Rows(skip, out[i].R)
	}
	return ForwardResult{Logits: out, Targets: z.Permuted, Latent: ShapeOf(z.Quant)}, nil
}

// Loss is the mean cross-entropy of the logits against the targets, over
// batch elements and positions.
func Loss(r ForwardResult) (float64, error) {
	var sum float64
	n := 0
	var buf []float64
	for b, logits := range r.Logits {
		target := r.Targets[b]
		if logits.R != len(target) {
			return 0, fmt.Errorf("%w: %d logit rows for %d targets", codes.ErrShapeMismatch, logits.R, len(target))
		}
		for i, t := range target {
			row := logits.Row(i)
			if t < 0 || t >= len(row) {
				return 0, fmt.Errorf("%w: target %d outside vocab %d", codes.ErrShapeMismatch, t, len(row))
			}
			buf = tensor.Float64s(buf, row)
			sum += floats.LogSumExp(buf) - buf[t]
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
