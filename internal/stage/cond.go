package stage

import (
	"fmt"

	"github.com/samcharles93/phylonn/internal/tensor"
)

// SOSProvider is the condition stage of an unconditional model: every batch
// element is conditioned on one fixed start token.
type SOSProvider struct {
	Token int
}

func (s SOSProvider) Encode(b Batch) (CondEncoding, error) {
	n := b.Len()
	enc := CondEncoding{Indices: make([][]int, n), Quant: tensor.NewQuant(n, 1, 1, 1)}
	for i := range enc.Indices {
		enc.Indices[i] = []int{s.Token}
		enc.Quant.Set(i, 0, 0, 0, float32(s.Token))
	}
	if b.Labels != nil {
		enc.Truth = append([]int(nil), b.Labels...)
	}
	return enc, nil
}

// LabelCond conditions on the class label. With a mapper the label is first
// replaced by its ancestor at the mapper's level, which restricts the target
// to the phylo levels up to that level.
type LabelCond struct {
	PhyloMapper *PhyloMapper
}

func (l LabelCond) Encode(b Batch) (CondEncoding, error) {
	if len(b.Labels) != b.Len() {
		return CondEncoding{}, fmt.Errorf("%w: %d labels for %d images", ErrNoLabels, len(b.Labels), b.Len())
	}
	n := b.Len()
	enc := CondEncoding{
		Indices: make([][]int, n),
		Quant:   tensor.NewQuant(n, 1, 1, 1),
		Truth:   append([]int(nil), b.Labels...),
	}
	for i, label := range b.Labels {
		code := label
		if l.PhyloMapper != nil {
			mapped, err := l.PhyloMapper.MapOne(label)
			if err != nil {
				return CondEncoding{}, err
			}
			code = mapped
		}
		enc.Indices[i] = []int{code}
		enc.Quant.Set(i, 0, 0, 0, float32(label))
	}
	return enc, nil
}

func (l LabelCond) Level() (int, bool) {
	if l.PhyloMapper == nil {
		return 0, false
	}
	return l.PhyloMapper.Level(), true
}

func (l LabelCond) Mapper() *PhyloMapper { return l.PhyloMapper }

// FirstStageCond reuses the backbone as condition stage: the conditioning
// images are encoded into the same code space as the target.
type FirstStageCond struct {
	Backbone Backbone
}

func (f FirstStageCond) Encode(b Batch) (CondEncoding, error) {
	q, idx, err := f.Backbone.Encode(b.CondImages())
	if err != nil {
		return CondEncoding{}, fmt.Errorf("encode condition: %w", err)
	}
	enc := CondEncoding{Indices: idx, Quant: q}
	if b.Labels != nil {
		enc.Truth = append([]int(nil), b.Labels...)
	}
	return enc, nil
}
