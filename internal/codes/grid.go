package codes

import "fmt"

// Grid holds codebook indices with axes (batch, position, level). Positions
// index the codebooks within a level.
type Grid struct {
	Batch     int
	Positions int
	Levels    int
	Data      []int
}

// NewGrid allocates a zeroed grid.
func NewGrid(batch, positions, levels int) Grid {
	return Grid{Batch: batch, Positions: positions, Levels: levels, Data: make([]int, batch*positions*levels)}
}

func (g Grid) At(b, p, l int) int { return g.Data[(b*g.Positions+p)*g.Levels+l] }

func (g Grid) Set(b, p, l, v int) { g.Data[(b*g.Positions+p)*g.Levels+l] = v }

// Flatten returns one sequence per batch element in position-major order:
// seq[p*Levels+l] = At(b, p, l).
func (g Grid) Flatten() [][]int {
	n := g.Positions * g.Levels
	out := make([][]int, g.Batch)
	for b := range out {
		seq := make([]int, n)
		copy(seq, g.Data[b*n:(b+1)*n])
		out[b] = seq
	}
	return out
}

// FromFlat rebuilds a grid from position-major sequences. Every sequence must
// have the same length, divisible by positions.
func FromFlat(seqs [][]int, positions int) (Grid, error) {
	if positions <= 0 {
		return Grid{}, fmt.Errorf("%w: positions must be positive", ErrShapeMismatch)
	}
	if len(seqs) == 0 {
		return Grid{Positions: positions}, nil
	}
	n := len(seqs[0])
	if n%positions != 0 {
		return Grid{}, fmt.Errorf("%w: length %d not divisible by %d positions", ErrShapeMismatch, n, positions)
	}
	g := NewGrid(len(seqs), positions, n/positions)
	for b, seq := range seqs {
		if len(seq) != n {
			return Grid{}, fmt.Errorf("%w: sequence %d has length %d, want %d", ErrShapeMismatch, b, len(seq), n)
		}
		copy(g.Data[b*n:], seq)
	}
	return g, nil
}
