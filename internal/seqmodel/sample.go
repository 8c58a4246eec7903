package seqmodel

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/logits"
)

// Callback observes sampling progress. It is called with the step index
// before each step.
type Callback func(step int)

// NoopCallback is the default Callback.
func NoopCallback(int) {}

// SampleOptions controls one Sample call.
type SampleOptions struct {
	// Temperature divides the logits; non-positive means 1.
	Temperature float32
	// TopK keeps the k most likely codes (ties included); zero disables it.
	TopK int
	// Stochastic draws codes from the distribution instead of taking the
	// most likely one.
	Stochastic bool
	// Rand is the source for stochastic draws. Nil uses the model's.
	Rand     *rand.Rand
	Callback Callback
}

// Sample extends each prefix by steps codes, conditioned on cond. It returns
// prefix ++ the new codes for every batch element.
//
// With PKeep > 0 codes are produced one at a time. Otherwise a single
// forward pass over cond ++ prefix ++ filler predicts all steps at once; the
// filler is steps-1 codes copied cyclically from the conditioning.
func (m *Model) Sample(ctx context.Context, prefix, cond [][]int, steps int, opts SampleOptions) ([][]int, error) {
	if len(prefix) != len(cond) {
		return nil, fmt.Errorf("%w: %d prefixes for %d conditions", codes.ErrShapeMismatch, len(prefix), len(cond))
	}
	if steps < 0 {
		return nil, fmt.Errorf("%w: negative steps %d", codes.ErrShapeMismatch, steps)
	}
	for i, c := range cond {
		if len(c) == 0 {
			return nil, fmt.Errorf("%w: batch element %d", ErrEmptyCondition, i)
		}
	}
	if opts.Callback == nil {
		opts.Callback = NoopCallback
	}
	rng := opts.Rand
	if rng == nil {
		rng = m.rng
	}
	sampler := logits.NewSampler(logits.SamplerConfig{
		Temperature: opts.Temperature,
		TopK:        opts.TopK,
		Stochastic:  opts.Stochastic,
	}, rng)

	if m.cfg.PKeep <= 0 {
		return m.sampleSingleShot(ctx, prefix, cond, steps, sampler, opts.Callback)
	}
	return m.sampleIterative(ctx, prefix, cond, steps, sampler, opts.Callback)
}

func (m *Model) sampleIterative(ctx context.Context, prefix, cond [][]int, steps int, sampler *logits.Sampler, cb Callback) ([][]int, error) {
	x := make([][]int, len(cond))
	for b := range x {
		seq := make([]int, 0, len(cond[b])+len(prefix[b])+steps)
		seq = append(seq, cond[b]...)
		x[b] = append(seq, prefix[b]...)
	}
	for k := 0; k < steps; k++ {
		cb(k)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b := range x {
			if len(x[b]) > m.tr.BlockSize() {
				return nil, fmt.Errorf("%w: %d codes at step %d, block size %d", ErrContextExceeded, len(x[b]), k, m.tr.BlockSize())
			}
		}
		out, err := m.tr.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("transformer forward: %w", err)
		}
		for b := range x {
			last := out[b].Row(out[b].R - 1)
			x[b] = append(x[b], sampler.Choose(last))
		}
	}
	for b := range x {
		x[b] = x[b][len(cond[b]):]
	}
	return x, nil
}

func (m *Model) sampleSingleShot(ctx context.Context, prefix, cond [][]int, steps int, sampler *logits.Sampler, cb Callback) ([][]int, error) {
	if steps == 0 {
		out := make([][]int, len(prefix))
		for b := range prefix {
			out[b] = append([]int(nil), prefix[b]...)
		}
		return out, nil
	}
	cb(0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x := make([][]int, len(cond))
	for b := range x {
		seq := make([]int, 0, len(cond[b])+len(prefix[b])+steps-1)
		seq = append(seq, cond[b]...)
		seq = append(seq, prefix[b]...)
		for i := 0; i < steps-1; i++ {
			seq = append(seq, cond[b][i%len(cond[b])])
		}
		if len(seq) > m.tr.BlockSize() {
			return nil, fmt.Errorf("%w: %d codes, block size %d", ErrContextExceeded, len(seq), m.tr.BlockSize())
		}
		x[b] = seq
	}
	out, err := m.tr.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("transformer forward: %w", err)
	}
	result := make([][]int, len(x))
	for b := range x {
		first := len(cond[b]) + len(prefix[b]) - 1
		seq := make([]int, 0, len(prefix[b])+steps)
		seq = append(seq, prefix[b]...)
		for i := 0; i < steps; i++ {
			seq = append(seq, sampler.Choose(out[b].Row(first+i)))
		}
		result[b] = seq
	}
	return result, nil
}
