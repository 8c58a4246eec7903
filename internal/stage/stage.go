// Package stage declares the collaborators the sequence model drives: the
// VQ backbone, its classification head, the condition stage and the
// transformer. Concrete condition stages live here too.
package stage

import (
	"errors"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/tensor"
)

var ErrNoLabels = errors.New("stage: batch has no labels")

// Batch is one training or evaluation batch.
type Batch struct {
	// Images feed the first stage.
	Images []tensor.Image
	// Labels are fine-grained class labels, one per image. May be nil.
	Labels []int
	// Cond feeds the condition stage. Nil means Images.
	Cond []tensor.Image
}

// Len is the batch size.
func (b Batch) Len() int { return len(b.Images) }

// CondImages returns the conditioning input.
func (b Batch) CondImages() []tensor.Image {
	if b.Cond != nil {
		return b.Cond
	}
	return b.Images
}

// Head returns the first n elements of the batch.
func (b Batch) Head(n int) Batch { return b.Slice(0, n) }

// Slice returns elements [i, j) of the batch, clamped to its length.
func (b Batch) Slice(i, j int) Batch {
	j = min(j, b.Len())
	i = min(max(i, 0), j)
	out := Batch{Images: b.Images[i:j]}
	if b.Labels != nil {
		out.Labels = b.Labels[min(i, len(b.Labels)):min(j, len(b.Labels))]
	}
	if b.Cond != nil {
		out.Cond = b.Cond[min(i, len(b.Cond)):min(j, len(b.Cond))]
	}
	return out
}

// Split cuts the batch into consecutive batches of at most size elements.
func (b Batch) Split(size int) []Batch {
	if size <= 0 {
		size = max(b.Len(), 1)
	}
	var out []Batch
	for i := 0; i < b.Len(); i += size {
		out = append(out, b.Slice(i, i+size))
	}
	return out
}

// Backbone is a VQ autoencoder with a single code grid. Encode returns the
// quantized latent laid out (B, C, positions, levels) and one position-major
// index sequence per image.
type Backbone interface {
	Encode(images []tensor.Image) (tensor.Quant, [][]int, error)
	Decode(q tensor.Quant) ([]tensor.Image, error)
	Codebook() tensor.Mat
}

// PhyloEncoding is the split output of a disentangled backbone.
type PhyloEncoding struct {
	Phylo       tensor.Quant
	NonPhylo    tensor.Quant
	PhyloIdx    [][]int
	NonPhyloIdx [][]int
}

// PhyloBackbone is a VQ autoencoder whose codes are split into phylogenetic
// and non-phylogenetic levels sharing one codebook.
type PhyloBackbone interface {
	EncodePhylo(images []tensor.Image) (PhyloEncoding, error)
	DecodePhylo(phylo, nonPhylo tensor.Quant) ([]tensor.Image, error)
	Hierarchy() codes.Hierarchy
	Codebook() tensor.Mat
}

// Classifier is the backbone's classification head. Classify returns one
// fine-grained label per image.
type Classifier interface {
	Classify(images []tensor.Image) ([]int, error)
	NumClasses() int
}

// CondEncoding is the output of a condition stage. Truth carries the
// ground-truth labels when the stage knows them.
type CondEncoding struct {
	Indices [][]int
	Quant   tensor.Quant
	Truth   []int
}

// CondStage encodes the conditioning signal of a batch into codes.
type CondStage interface {
	Encode(b Batch) (CondEncoding, error)
}

// LeveledCond is implemented by condition stages that condition on an
// ancestor level. ok is false when no level restriction applies.
type LeveledCond interface {
	Level() (level int, ok bool)
}

// MappedCond is implemented by condition stages that map labels to an
// ancestor level before scoring.
type MappedCond interface {
	Mapper() *PhyloMapper
}

// Transformer predicts next-code logits. Forward returns one
// [len(seq) x VocabSize()] matrix per sequence; row i scores the code that
// follows seq[:i+1].
type Transformer interface {
	Forward(seqs [][]int) ([]tensor.Mat, error)
	BlockSize() int
	VocabSize() int
}
