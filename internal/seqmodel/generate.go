package seqmodel

import (
	"context"

	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// Generation is the outcome of Generate.
type Generation struct {
	// Codes are the sampled target codes in transformer order.
	Codes [][]int `json:"codes"`
	// Native are the full unpermuted sequences the images were decoded
	// from. With a level-restricted target the codes outside the target
	// come from the batch images.
	Native [][]int        `json:"native"`
	Latent LatentShape    `json:"latent"`
	Images []tensor.Image `json:"-"`
}

// Generate samples a full target for every batch element, conditioned on
// the batch, and decodes it. The batch images fix the latent shape and
// supply the codes outside a restricted target.
func (m *Model) Generate(ctx context.Context, b stage.Batch, opts SampleOptions) (Generation, error) {
	if b.Len() == 0 {
		return Generation{}, ErrEmptyBatch
	}
	z, err := m.encodeToZ(b.Images)
	if err != nil {
		return Generation{}, err
	}
	c, err := m.encodeToC(b)
	if err != nil {
		return Generation{}, err
	}
	return m.generate(ctx, z, c, opts)
}

func (m *Model) generate(ctx context.Context, z zEncoding, c stage.CondEncoding, opts SampleOptions) (Generation, error) {
	steps := len(z.Permuted[0])
	start := make([][]int, len(z.Permuted))
	sampled, err := m.Sample(ctx, start, c.Indices, steps, opts)
	if err != nil {
		return Generation{}, err
	}
	images, native, err := m.decodeTargets(sampled, z)
	if err != nil {
		return Generation{}, err
	}
	return Generation{Codes: sampled, Native: native, Latent: ShapeOf(z.Quant), Images: images}, nil
}
