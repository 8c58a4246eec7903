package toy

import (
	"fmt"

	"github.com/samcharles93/phylonn/internal/tensor"
)

// Classifier predicts a label from the phylo codes of an image: the sum of
// the codes at the coarsest Levels phylo levels, modulo Classes. Images that
// share those codes always get the same label.
type Classifier struct {
	Backbone *Backbone
	Classes  int
	// Levels is how many phylo levels take part; zero means all of them.
	Levels int
}

func (c Classifier) NumClasses() int { return c.Classes }

func (c Classifier) Classify(images []tensor.Image) ([]int, error) {
	if c.Classes <= 0 {
		return nil, fmt.Errorf("%w: classifier needs a positive class count", ErrConfig)
	}
	enc, err := c.Backbone.EncodePhylo(images)
	if err != nil {
		return nil, err
	}
	h := c.Backbone.Hierarchy()
	levels := c.Levels
	if levels <= 0 || levels > h.PhyloLevels {
		levels = h.PhyloLevels
	}
	out := make([]int, len(images))
	for i, seq := range enc.PhyloIdx {
		sum := 0
		for p := 0; p < h.CodebooksPerLevel; p++ {
			for l := 0; l < levels; l++ {
				sum += seq[p*h.PhyloLevels+l]
			}
		}
		out[i] = sum % c.Classes
	}
	return out, nil
}
