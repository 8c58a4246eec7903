package stage

import (
	"errors"
	"fmt"
)

var ErrUnknownLabel = errors.New("stage: label has no ancestry")

// PhyloMapper maps fine-grained labels to their ancestor at one level of the
// phylogeny.
type PhyloMapper struct {
	level   int
	table   []int
	classes int
}

// NewPhyloMapper builds a mapper from an ancestry table: ancestry[label][l]
// is the ancestor id of label at level l. Ancestor ids at the chosen level
// must be in [0, n) for some n, which becomes NumClasses.
func NewPhyloMapper(level int, ancestry [][]int) (*PhyloMapper, error) {
	if level < 0 {
		return nil, fmt.Errorf("stage: negative phylo level %d", level)
	}
	m := &PhyloMapper{level: level, table: make([]int, len(ancestry))}
	for label, path := range ancestry {
		if level >= len(path) {
			return nil, fmt.Errorf("stage: label %d has %d ancestry levels, need %d", label, len(path), level+1)
		}
		id := path[level]
		if id < 0 {
			return nil, fmt.Errorf("stage: label %d: negative ancestor id %d", label, id)
		}
		m.table[label] = id
		m.classes = max(m.classes, id+1)
	}
	return m, nil
}

func (m *PhyloMapper) Level() int { return m.level }

// NumClasses is the number of distinct ancestor classes at the mapper level.
func (m *PhyloMapper) NumClasses() int { return m.classes }

func (m *PhyloMapper) MapOne(label int) (int, error) {
	if label < 0 || label >= len(m.table) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	return m.table[label], nil
}

// Map maps every label.
func (m *PhyloMapper) Map(labels []int) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		v, err := m.MapOne(l)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
