// Package codes converts between codebook index grids, flat index sequences
// and embedded latents.
package codes

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch   = errors.New("codes: shape mismatch")
	ErrLevelOutOfRange = errors.New("codes: level out of range")
)

// Hierarchy describes how a backbone lays out its codes. Each hierarchy level
// holds CodebooksPerLevel codes; the first PhyloLevels levels are the
// phylogenetic ones, coarse to fine, followed by NonAttrLevels levels that
// carry no attribute information.
type Hierarchy struct {
	CodebooksPerLevel int `yaml:"codebooks_per_level" json:"codebooks_per_level"`
	PhyloLevels       int `yaml:"n_phylolevels" json:"n_phylolevels"`
	NonAttrLevels     int `yaml:"n_levels_non_attribute" json:"n_levels_non_attribute"`
	CodebookSize      int `yaml:"n_embed" json:"n_embed"`
	EmbedDim          int `yaml:"embed_dim" json:"embed_dim"`
}

// PhyloCodes is the number of phylo codes per batch element.
func (h Hierarchy) PhyloCodes() int { return h.CodebooksPerLevel * h.PhyloLevels }

// NonPhyloCodes is the number of non-phylo codes per batch element.
func (h Hierarchy) NonPhyloCodes() int { return h.CodebooksPerLevel * h.NonAttrLevels }

// TotalLevels is the number of levels across both code groups.
func (h Hierarchy) TotalLevels() int { return h.PhyloLevels + h.NonAttrLevels }

// SequenceLength is the flat sequence length of one batch element.
func (h Hierarchy) SequenceLength() int { return h.CodebooksPerLevel * h.TotalLevels() }

func (h Hierarchy) Validate() error {
	switch {
	case h.CodebooksPerLevel <= 0:
		return fmt.Errorf("%w: codebooks_per_level must be positive, got %d", ErrShapeMismatch, h.CodebooksPerLevel)
	case h.PhyloLevels <= 0:
		return fmt.Errorf("%w: n_phylolevels must be positive, got %d", ErrShapeMismatch, h.PhyloLevels)
	case h.NonAttrLevels < 0:
		return fmt.Errorf("%w: n_levels_non_attribute must not be negative, got %d", ErrShapeMismatch, h.NonAttrLevels)
	case h.CodebookSize <= 0:
		return fmt.Errorf("%w: n_embed must be positive, got %d", ErrShapeMismatch, h.CodebookSize)
	case h.EmbedDim <= 0:
		return fmt.Errorf("%w: embed_dim must be positive, got %d", ErrShapeMismatch, h.EmbedDim)
	}
	return nil
}
