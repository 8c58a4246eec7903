// Package permute reorders flat code sequences reversibly.
package permute

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var ErrLength = errors.New("permute: invalid sequence length")

// Permuter reorders a sequence. Reverse(Forward(s)) == s for every length the
// permuter accepts, and the same input always produces the same output.
type Permuter interface {
	Forward(seq []int) ([]int, error)
	Reverse(seq []int) ([]int, error)
}

// Identity leaves sequences untouched.
type Identity struct{}

func (Identity) Forward(seq []int) ([]int, error) { return seq, nil }

func (Identity) Reverse(seq []int) ([]int, error) { return seq, nil }

// Reverse flips the sequence order; it is its own inverse.
type Reverse struct{}

func (Reverse) Forward(seq []int) ([]int, error) { return reversed(seq), nil }

func (Reverse) Reverse(seq []int) ([]int, error) { return reversed(seq), nil }

func reversed(seq []int) []int {
	out := make([]int, len(seq))
	for i, v := range seq {
		out[len(seq)-1-i] = v
	}
	return out
}

// LevelMajor transposes a position-major sequence (seq[p*L+l]) into
// level-major order (seq[l*P+p]) for a fixed number of positions.
type LevelMajor struct {
	Positions int
}

func (lm LevelMajor) dims(n int) (int, int, error) {
	if lm.Positions <= 0 || n%lm.Positions != 0 {
		return 0, 0, fmt.Errorf("%w: %d not divisible by %d positions", ErrLength, n, lm.Positions)
	}
	return lm.Positions, n / lm.Positions, nil
}

func (lm LevelMajor) Forward(seq []int) ([]int, error) {
	p, l, err := lm.dims(len(seq))
	if err != nil {
		return nil, err
	}
	out := make([]int, len(seq))
	for i := 0; i < p; i++ {
		for j := 0; j < l; j++ {
			out[j*p+i] = seq[i*l+j]
		}
	}
	return out, nil
}

func (lm LevelMajor) Reverse(seq []int) ([]int, error) {
	p, l, err := lm.dims(len(seq))
	if err != nil {
		return nil, err
	}
	out := make([]int, len(seq))
	for i := 0; i < p; i++ {
		for j := 0; j < l; j++ {
			out[i*l+j] = seq[j*p+i]
		}
	}
	return out, nil
}

// Shuffle applies a fixed pseudo-random permutation derived from Seed. The
// permutation for each length is generated once and cached.
type Shuffle struct {
	Seed int64

	mu    sync.Mutex
	perms map[int]shufflePerm
}

type shufflePerm struct {
	fwd []int
	inv []int
}

// NewShuffle returns a shuffle permuter for seed.
func NewShuffle(seed int64) *Shuffle {
	return &Shuffle{Seed: seed}
}

func (s *Shuffle) perm(n int) shufflePerm {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.perms[n]; ok {
		return p
	}
	if s.perms == nil {
		s.perms = make(map[int]shufflePerm)
	}
	fwd := rand.New(rand.NewSource(s.Seed)).Perm(n)
	inv := make([]int, n)
	for i, j := range fwd {
		inv[j] = i
	}
	p := shufflePerm{fwd: fwd, inv: inv}
	s.perms[n] = p
	return p
}

// Forward places seq[perm[i]] at position i.
func (s *Shuffle) Forward(seq []int) ([]int, error) {
	p := s.perm(len(seq))
	out := make([]int, len(seq))
	for i, j := range p.fwd {
		out[i] = seq[j]
	}
	return out, nil
}

func (s *Shuffle) Reverse(seq []int) ([]int, error) {
	p := s.perm(len(seq))
	out := make([]int, len(seq))
	for i, j := range p.inv {
		out[i] = seq[j]
	}
	return out, nil
}

// Spec selects a permuter from configuration.
type Spec struct {
	Kind      string `yaml:"kind" json:"kind"`
	Seed      int64  `yaml:"seed,omitempty" json:"seed,omitempty"`
	Positions int    `yaml:"positions,omitempty" json:"positions,omitempty"`
}

// New builds the permuter described by spec. An empty kind is the identity.
func New(spec Spec) (Permuter, error) {
	switch spec.Kind {
	case "", "identity":
		return Identity{}, nil
	case "reverse":
		return Reverse{}, nil
	case "shuffle":
		return NewShuffle(spec.Seed), nil
	case "level_major":
		if spec.Positions <= 0 {
			return nil, fmt.Errorf("permute: level_major needs positive positions, got %d", spec.Positions)
		}
		return LevelMajor{Positions: spec.Positions}, nil
	default:
		return nil, fmt.Errorf("permute: unknown kind %q", spec.Kind)
	}
}

// ForwardBatch permutes every sequence of a batch.
func ForwardBatch(p Permuter, seqs [][]int) ([][]int, error) {
	return apply(p.Forward, seqs)
}

// ReverseBatch undoes ForwardBatch.
func ReverseBatch(p Permuter, seqs [][]int) ([][]int, error) {
	return apply(p.Reverse, seqs)
}

func apply(fn func([]int) ([]int, error), seqs [][]int) ([][]int, error) {
	out := make([][]int, len(seqs))
	for b, s := range seqs {
		r, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", b, err)
		}
		out[b] = r
	}
	return out, nil
}
