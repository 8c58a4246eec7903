package seqmodel

import (
	"context"
	"fmt"

	"github.com/samcharles93/phylonn/internal/metrics"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// DecodeToImage undoes the permutation of full code sequences and decodes
// them with the backbone. Sequence lengths and the latent shape are checked
// against the hierarchy first.
func (m *Model) DecodeToImage(seqs [][]int, shape LatentShape) ([]tensor.Image, error) {
	if err := m.comp.check(seqs, shape); err != nil {
		return nil, err
	}
	native, err := permute.ReverseBatch(m.perm, seqs)
	if err != nil {
		return nil, fmt.Errorf("reverse permutation: %w", err)
	}
	return m.comp.decode(native, shape)
}

// decodeTargets decodes permuted targets. Restricted targets are written
// over the encoded input's codes before decoding. It also returns the full
// native sequences the images were decoded from.
func (m *Model) decodeTargets(targets [][]int, z zEncoding) ([]tensor.Image, [][]int, error) {
	unpermuted, err := permute.ReverseBatch(m.perm, targets)
	if err != nil {
		return nil, nil, fmt.Errorf("reverse permutation: %w", err)
	}
	full, err := m.comp.assemble(unpermuted, z.Native)
	if err != nil {
		return nil, nil, err
	}
	images, err := m.comp.decode(full, ShapeOf(z.Quant))
	if err != nil {
		return nil, nil, err
	}
	return images, full, nil
}

// StepResult is the outcome of one training or validation step.
type StepResult struct {
	Loss      float64 `json:"loss"`
	Monitored bool    `json:"monitored"`
	F1Samples float64 `json:"f1_samples_nopix,omitempty"`
	F1Det     float64 `json:"f1_x_sample_det,omitempty"`
}

const (
	SplitTrain = "train"
	SplitVal   = "val"
)

// TrainingStep runs SharedStep on the train split, with target corruption.
func (m *Model) TrainingStep(ctx context.Context, b stage.Batch, batchIdx int) (StepResult, error) {
	return m.SharedStep(ctx, b, batchIdx, SplitTrain)
}

// ValidationStep runs SharedStep on the validation split, without
// corruption.
func (m *Model) ValidationStep(ctx context.Context, b stage.Batch, batchIdx int) (StepResult, error) {
	return m.SharedStep(ctx, b, batchIdx, SplitVal)
}

// SharedStep computes the loss of a batch and, every MonitorEvery batches,
// the classification consistency of sampled images. The train split
// corrupts targets. Values are logged as "<split>/loss",
// "<split>/f1_samples_nopix" and "<split>/f1_x_sample_det".
func (m *Model) SharedStep(ctx context.Context, b stage.Batch, batchIdx int, split string) (StepResult, error) {
	fr, err := m.Forward(b, split == SplitTrain)
	if err != nil {
		return StepResult{}, err
	}
	loss, err := Loss(fr)
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Loss: loss}
	m.tracker.Log(split+"/loss", loss)

	if batchIdx%m.cfg.MonitorEvery == 0 {
		f1s, f1d, ok, err := m.monitor(ctx, b)
		switch {
		case err != nil:
			m.log.Warn("classification monitor failed", "split", split, "batch", batchIdx, "error", err)
		case ok:
			res.Monitored, res.F1Samples, res.F1Det = true, f1s, f1d
			m.tracker.Log(split+"/f1_samples_nopix", f1s)
			m.tracker.Log(split+"/f1_x_sample_det", f1d)
		}
	}
	m.log.Debug("step", "split", split, "batch", batchIdx, "loss", loss, "monitored", res.Monitored)
	return res, nil
}

// monitor samples stochastically and deterministically from the batch's
// conditioning, decodes both and scores the classifier's predictions on the
// decoded images against the truth labels. ok is false when there is no
// classifier or no truth to compare with.
func (m *Model) monitor(ctx context.Context, b stage.Batch) (f1Samples, f1Det float64, ok bool, err error) {
	if m.cls == nil || b.Len() == 0 {
		return 0, 0, false, nil
	}
	z, err := m.encodeToZ(b.Images)
	if err != nil {
		return 0, 0, false, err
	}
	c, err := m.encodeToC(b)
	if err != nil {
		return 0, 0, false, err
	}
	if len(c.Truth) != b.Len() {
		m.log.Debug("no truth labels, skipping classification monitor")
		return 0, 0, false, nil
	}

	truth := c.Truth
	scorer := metrics.F1{NumClasses: m.cls.NumClasses(), Average: m.cfg.F1Average}
	var mapper *stage.PhyloMapper
	if mc, isMapped := m.cond.(stage.MappedCond); isMapped && mc.Mapper() != nil {
		mapper = mc.Mapper()
		if truth, err = mapper.Map(truth); err != nil {
			return 0, 0, false, err
		}
		scorer.NumClasses = mapper.NumClasses()
	}

	score := func(opts SampleOptions) (float64, error) {
		gen, err := m.generate(ctx, z, c, opts)
		if err != nil {
			return 0, err
		}
		pred, err := m.cls.Classify(gen.Images)
		if err != nil {
			return 0, err
		}
		if mapper != nil {
			if pred, err = mapper.Map(pred); err != nil {
				return 0, err
			}
		}
		return scorer.Score(pred, truth)
	}

	if f1Samples, err = score(SampleOptions{Temperature: 1, TopK: m.cfg.TopK, Stochastic: true}); err != nil {
		return 0, 0, false, err
	}
	if f1Det, err = score(SampleOptions{}); err != nil {
		return 0, 0, false, err
	}
	return f1Samples, f1Det, true, nil
}

// LogOptions controls LogImages.
type LogOptions struct {
	// N caps the number of batch elements; zero means 4.
	N           int
	Temperature float32
	// TopK for the stochastic samples; zero uses the configured top-k.
	TopK     int
	Callback Callback
}

// LogImages renders inputs, reconstructions, stochastic samples and
// deterministic samples for the first N elements of a batch, keyed
// "inputs", "reconstructions", "samples_nopix" and "samples_det".
func (m *Model) LogImages(ctx context.Context, b stage.Batch, opts LogOptions) (map[string][]tensor.Image, error) {
	n := opts.N
	if n <= 0 {
		n = 4
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = m.cfg.TopK
	}
	b = b.Head(n)
	if b.Len() == 0 {
		return nil, ErrEmptyBatch
	}

	z, err := m.encodeToZ(b.Images)
	if err != nil {
		return nil, err
	}
	c, err := m.encodeToC(b)
	if err != nil {
		return nil, err
	}
	out := map[string][]tensor.Image{"inputs": b.Images}
	stochastic, err := m.generate(ctx, z, c, SampleOptions{
		Temperature: opts.Temperature, TopK: opts.TopK, Stochastic: true, Callback: opts.Callback,
	})
	if err != nil {
		return nil, err
	}
	out["samples_nopix"] = stochastic.Images
	det, err := m.generate(ctx, z, c, SampleOptions{Callback: opts.Callback})
	if err != nil {
		return nil, err
	}
	out["samples_det"] = det.Images
	if out["reconstructions"], err = m.comp.decode(z.Native, ShapeOf(z.Quant)); err != nil {
		return nil, err
	}
	return out, nil
}
